package llm

import (
	"strings"
)

// BuildSystemPrompt composes the system message with the output rules for purchases.
func BuildSystemPrompt() string {
	parts := []string{
		"You are a receipts parser. Return ONLY JSON that matches the provided JSON Schema.",
		"Read the attached photo of a store receipt.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"'entity_name' is the store or business name as printed; 'entity_branch' is the branch or store number if any.",
		"'entity_identification' is the business tax id, digits and dashes only.",
		"Write money amounts as plain decimals without currency symbols or thousands separators.",
		"List every purchased line under 'items'. Put a barcode or product code in 'code' when one is printed next to the line.",
		"Include 'discount' if visible (positive amount representing the discount).",
		"If a tip appears, include it under 'tips'.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt carries the reference name of the upload as a hint.
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	if name := strings.TrimSpace(req.ReferenceName); name != "" {
		b.WriteString("Filename: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	b.WriteString("Extract the purchase from the receipt image.")
	return b.String()
}
