package requests

import (
	"fmt"
	"strings"
)

// Field is one positional entry of a request payload.
type Field struct {
	Key     string
	Label   string
	Example string
	// Currency marks amounts rendered with the rand prefix.
	Currency bool
}

// Schema describes how a request type's details are captured and validated.
type Schema struct {
	Type  Type
	Title string
	Icon  string
	// Fields are read one per non-blank line, in order.
	Fields []Field
	// WholeText captures the entire trimmed input into the single field.
	WholeText bool
	// Hint replaces the numbered field list in prompts when set.
	Hint string
}

// MinFields is the number of non-blank lines required.
func (s Schema) MinFields() int {
	if s.WholeText {
		return 1
	}
	return len(s.Fields)
}

var documentFields = []Field{
	{Key: "employeeName", Label: "Employee Name", Example: "John Smith"},
	{Key: "store", Label: "Store", Example: "Doornkop"},
	{Key: "contactNumber", Label: "Contact Number", Example: "0123456789"},
}

var schemas = map[Type]Schema{
	TypeRefund: {
		Type: TypeRefund, Title: "REFUND REQUEST", Icon: "📝",
		Fields: []Field{
			{Key: "employeeNumber", Label: "Employee Number", Example: "EMP001"},
			{Key: "bankName", Label: "Bank Name", Example: "Standard Bank"},
			{Key: "accountNumber", Label: "Account Number", Example: "1234567890"},
			{Key: "branch", Label: "Branch", Example: "Johannesburg"},
			{Key: "reason", Label: "Reason for refund", Example: "Wrong item delivered"},
			{Key: "amount", Label: "Amount", Example: "500", Currency: true},
		},
	},
	TypeSystemBalance: {
		Type: TypeSystemBalance, Title: "SYSTEM BALANCE INQUIRY", Icon: "💰",
		Fields: []Field{{Key: "employeeNumber", Label: "Employee Number", Example: "EMP001"}},
	},
	TypeStationery: {
		Type: TypeStationery, Title: "STATIONERY REQUEST", Icon: "📋",
		Fields:    []Field{{Key: "itemsList", Label: "Items", Example: "Pens - 10 pieces\nA4 Paper - 5 reams\nStapler - 2 pieces"}},
		WholeText: true,
		Hint:      "Please provide the list of items you need (separate each item with a new line):",
	},
	TypeAddCustomer: {
		Type: TypeAddCustomer, Title: "ADD NEW CUSTOMER", Icon: "👤",
		Fields: []Field{
			{Key: "employeeNumber", Label: "Employee Number", Example: "EMP001"},
			{Key: "customerName", Label: "Customer Name & Surname", Example: "John Smith"},
			{Key: "contactNumber", Label: "Contact Number", Example: "0123456789"},
		},
	},
	TypeUnblockCustomer: {
		Type: TypeUnblockCustomer, Title: "UNBLOCK CUSTOMER", Icon: "🔓",
		Fields: []Field{{Key: "employeeNumber", Label: "Employee Number", Example: "EMP001"}},
	},
	TypeCreditNotes: {
		Type: TypeCreditNotes, Title: "CREDIT NOTES", Icon: "📄",
		Fields: []Field{
			{Key: "employeeNumber", Label: "Employee Number", Example: "EMP001"},
			{Key: "invoiceNumber", Label: "Invoice Number", Example: "INV12345"},
			{Key: "reason", Label: "Reason", Example: "Product returned damaged"},
		},
	},
	TypeCallback: {
		Type: TypeCallback, Title: "OPERATOR CALL BACK", Icon: "📞",
		Fields:    []Field{{Key: "emergencyNature", Label: "Emergency", Example: "System down, unable to process sales"}},
		WholeText: true,
		Hint:      "Please describe the nature of emergency:",
	},
	TypeOverSaleApproval: {
		Type: TypeOverSaleApproval, Title: "OVER SALE APPROVAL", Icon: "✅",
		Fields: []Field{
			{Key: "employeeNumber", Label: "Employee Number", Example: "EMP001"},
			{Key: "requestedAmount", Label: "Requested Amount", Example: "1500", Currency: true},
			{Key: "netPay", Label: "Net Pay", Example: "8000", Currency: true},
		},
	},
	TypeTDDocument:   {Type: TypeTDDocument, Title: "TD DOCUMENT", Icon: "📄", Fields: documentFields},
	TypeGRNStatement: {Type: TypeGRNStatement, Title: "GRN STATEMENT", Icon: "📄", Fields: documentFields},
	TypeStockSheet:   {Type: TypeStockSheet, Title: "STOCK SHEET", Icon: "📄", Fields: documentFields},
	TypeTDStatement:  {Type: TypeTDStatement, Title: "TD STATEMENT", Icon: "📄", Fields: documentFields},
	TypeLeaveForm:    {Type: TypeLeaveForm, Title: "LEAVE FORM", Icon: "📄"},
	TypeEscalation: {
		Type: TypeEscalation, Title: "ESCALATION", Icon: "🚨",
		Fields: []Field{
			{Key: "store", Label: "Store", Example: "Doornkop"},
			{Key: "employeeName", Label: "Employee Name", Example: "John Smith"},
			{Key: "issueDescription", Label: "Issue Description", Example: "Till not working since morning"},
			{Key: "contactNumber", Label: "Contact Number", Example: "0123456789"},
		},
	},
	TypeBulkCustomers: {
		Type: TypeBulkCustomers, Title: "BULK CUSTOMER UPLOAD", Icon: "📊",
		Fields: []Field{
			{Key: "totalRecords", Label: "Records"},
			{Key: "headers", Label: "Columns"},
			{Key: "rows", Label: "Rows"},
		},
	},
}

// SchemaFor returns the field schema for t.
func SchemaFor(t Type) (Schema, bool) {
	schema, ok := schemas[t]
	return schema, ok
}

// ValidationError reports details that do not satisfy a request type's schema.
type ValidationError struct {
	Type    Type
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing fields %s", e.Type, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

// Parse splits free text into the positional payload for t. Lines are trimmed
// and blank lines dropped; extra lines beyond the schema are ignored.
func Parse(t Type, text string) (map[string]any, error) {
	schema, ok := SchemaFor(t)
	if !ok {
		return nil, &ValidationError{Type: t, Reason: "unknown request type"}
	}
	trimmed := strings.TrimSpace(text)
	if schema.WholeText {
		if trimmed == "" {
			return nil, &ValidationError{Type: t, Missing: []string{schema.Fields[0].Key}}
		}
		return map[string]any{schema.Fields[0].Key: trimmed}, nil
	}
	lines := nonBlankLines(trimmed)
	if len(lines) < schema.MinFields() {
		missing := make([]string, 0, len(schema.Fields)-len(lines))
		for _, f := range schema.Fields[len(lines):] {
			missing = append(missing, f.Key)
		}
		return nil, &ValidationError{Type: t, Missing: missing}
	}
	payload := make(map[string]any, len(schema.Fields))
	for i, f := range schema.Fields {
		payload[f.Key] = lines[i]
	}
	return payload, nil
}

// Validate checks that every field of t's schema is present and non-empty.
func Validate(t Type, payload map[string]any) error {
	schema, ok := SchemaFor(t)
	if !ok {
		return &ValidationError{Type: t, Reason: "unknown request type"}
	}
	var missing []string
	for _, f := range schema.Fields {
		if isEmptyValue(payload[f.Key]) {
			missing = append(missing, f.Key)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Type: t, Missing: missing}
	}
	return nil
}

// Describe renders the payload as bullet lines using the schema's labels.
func Describe(t Type, payload map[string]any) string {
	schema, ok := SchemaFor(t)
	if !ok || len(schema.Fields) == 0 {
		return ""
	}
	if t == TypeBulkCustomers {
		return fmt.Sprintf("• Records: %v", payload["totalRecords"])
	}
	lines := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		value := strings.TrimSpace(fmt.Sprint(payload[f.Key]))
		if f.Currency {
			value = "R" + value
		}
		if schema.WholeText {
			lines = append(lines, value)
			continue
		}
		lines = append(lines, fmt.Sprintf("• %s: %s", f.Label, value))
	}
	return strings.Join(lines, "\n")
}

func nonBlankLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func isEmptyValue(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(value) == ""
	default:
		return false
	}
}
