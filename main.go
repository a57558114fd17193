package main

import "github.com/salesdesk/crm-management/cmd"

func main() {
	cmd.Execute()
}
