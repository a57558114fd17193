package permission

// InferResourceType guesses a resource type from the distinguishing fields
// present on a raw payload. Kept only for callers still migrating off
// shape-only payloads: a payload missing its distinguishing field is
// misclassified or unclassified, so pass the type explicitly whenever it is
// known. Nothing inside this package calls it.
func InferResourceType(payload map[string]interface{}) (ResourceType, bool) {
	switch {
	case hasAny(payload, "leadOwner", "leadSource", "lead_source"):
		return ResourceLead, true
	case hasAny(payload, "dealValue", "dealStage", "deal_stage"):
		return ResourceDeal, true
	case hasAny(payload, "quoteNumber", "quote_number", "lineItems"):
		return ResourceQuote, true
	case hasAny(payload, "subsidiaryName", "subsidiary_name", "parentCompany"):
		return ResourceSubsidiary, true
	case hasAny(payload, "sku", "unitPrice", "unit_price"):
		return ResourceProduct, true
	case hasAny(payload, "dueDate", "due_date", "assignedTo"):
		return ResourceTask, true
	case hasAny(payload, "reportingTo", "passwordHash"):
		return ResourceUser, true
	case hasAny(payload, "email", "phoneNumber", "phone_number"):
		return ResourceContact, true
	default:
		return "", false
	}
}

func hasAny(payload map[string]interface{}, keys ...string) bool {
	for _, key := range keys {
		if _, ok := payload[key]; ok {
			return true
		}
	}
	return false
}
