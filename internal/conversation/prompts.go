package conversation

import (
	"fmt"
	"strings"

	"github.com/memohai/intake/internal/requests"
)

// Menu option tables. Order is the number the user types.
var (
	queryOptions = []requests.Type{
		requests.TypeRefund,
		requests.TypeSystemBalance,
		requests.TypeStationery,
		requests.TypeAddCustomer,
		requests.TypeUnblockCustomer,
		requests.TypeCreditNotes,
		requests.TypeCallback,
	}
	documentOptions = []requests.Type{
		requests.TypeTDDocument,
		requests.TypeGRNStatement,
		requests.TypeStockSheet,
		requests.TypeLeaveForm,
		requests.TypeTDStatement,
	}
)

const (
	mainMenuSize = 5

	invalidStore = "Invalid selection. Please choose a valid store number."
	apology      = "Sorry, there was an error submitting your request. Please try again later."
	statusFailed = "Sorry, we could not load your requests right now. Please try again later."
	noRequests   = "You have no previous requests."
)

func greetingPrompt(cat Catalog) string {
	var b strings.Builder
	b.WriteString("Hi! 👋 How can I help you today?\n\nPlease select your region:\n")
	for i, r := range cat.Regions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Name)
	}
	fmt.Fprintf(&b, "\nType the number of your region (1-%d):\n\n", len(cat.Regions))
	b.WriteString("ℹ️ Commands:\n")
	b.WriteString("• Type \"my requests\" to check your request status\n")
	b.WriteString("• Type \"change store\" to change store\n")
	b.WriteString("• Type \"menu\" to return to the main menu\n")
	b.WriteString("• Type \"reset\" to start over")
	return b.String()
}

func invalidRegion(cat Catalog) string {
	return fmt.Sprintf("Please select a valid region (1-%d)", len(cat.Regions))
}

func storePrompt(r Region) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please select your store from %s region:\n\n", strings.ToUpper(r.Name))
	for i, s := range r.Stores {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("\nType the number of your store:")
	return b.String()
}

func mainMenuPrompt() string {
	return `Main Menu:

1️⃣ Query
2️⃣ Over Sale Approval
3️⃣ Request Document
4️⃣ Training
5️⃣ Escalation

Type the number of your choice (1-5):

📷 Tip: You can send images with your requests for better support!`
}

func optionsPrompt(title, question string, options []requests.Type) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", title, question)
	for i, t := range options {
		schema, _ := requests.SchemaFor(t)
		fmt.Fprintf(&b, "%d. %s\n", i+1, optionLabel(schema))
	}
	fmt.Fprintf(&b, "\nType the number of your choice (1-%d):", len(options))
	return b.String()
}

func optionLabel(schema requests.Schema) string {
	words := strings.Fields(strings.ToLower(schema.Title))
	for i, w := range words {
		switch w {
		case "td", "grn":
			words[i] = strings.ToUpper(w)
		default:
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func queryMenuPrompt() string {
	return optionsPrompt("QUERY", "What kind of query is this?", queryOptions)
}

func documentMenuPrompt() string {
	return optionsPrompt("REQUEST DOCUMENT", "Which document do you need?", documentOptions)
}

func trainingMenuPrompt(cat Catalog) string {
	var b strings.Builder
	b.WriteString("TRAINING\nWhat topic do you need training on?\n\n")
	for i, t := range cat.Training {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t.Title)
	}
	fmt.Fprintf(&b, "\nType the number of your choice (1-%d):", len(cat.Training))
	return b.String()
}

func trainingContent(t TrainingTopic) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📚 %s TRAINING:\n\n", strings.ToUpper(t.Title))
	for i, step := range t.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	if t.VideoURL != "" || t.GuideURL != "" {
		b.WriteString("\n")
	}
	if t.VideoURL != "" {
		fmt.Fprintf(&b, "📹 Video guide: %s\n", t.VideoURL)
	}
	if t.GuideURL != "" {
		fmt.Fprintf(&b, "📄 PDF guide: %s\n", t.GuideURL)
	}
	return strings.TrimRight(b.String(), "\n")
}

func invalidOption(n int) string {
	return fmt.Sprintf("Please select a valid option (1-%d)", n)
}

// detailsPrompt asks for the fields of t with a worked example.
func detailsPrompt(t requests.Type) string {
	schema, _ := requests.SchemaFor(t)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", schema.Icon, schema.Title)
	if t == requests.TypeEscalation {
		b.WriteString("Please describe the issue briefly. Our team will get back to you shortly.\n\n")
	}
	b.WriteString(fieldInstructions(schema))
	if note := noteFor(t); note != "" {
		b.WriteString("\n\n")
		b.WriteString(note)
	}
	return b.String()
}

// retryPrompt re-asks for the fields after a validation failure.
func retryPrompt(t requests.Type) string {
	schema, _ := requests.SchemaFor(t)
	return "❌ Please provide all required information in the correct format:\n\n" + fieldInstructions(schema)
}

func fieldInstructions(schema requests.Schema) string {
	var b strings.Builder
	switch {
	case schema.Hint != "":
		b.WriteString(schema.Hint)
	case len(schema.Fields) == 1:
		fmt.Fprintf(&b, "Please provide your %s:\n\nExample: %s", schema.Fields[0].Label, schema.Fields[0].Example)
		return b.String()
	default:
		b.WriteString("Please provide the following information (separate each field with a new line):\n\n")
		for i, f := range schema.Fields {
			fmt.Fprintf(&b, "%d. %s:\n", i+1, f.Label)
		}
	}
	b.WriteString("\nExample:\n")
	for i, f := range schema.Fields {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(f.Example)
	}
	return strings.TrimRight(b.String(), "\n")
}

func noteFor(t requests.Type) string {
	switch t.Category() {
	case requests.CategoryApproval:
		return "Note: Please also upload your latest payslip if possible."
	case requests.CategoryDocument, requests.CategoryQuery:
		return "📷 You can upload supporting images if needed."
	default:
		return ""
	}
}

// confirmation tells the user their request was recorded.
func confirmation(id string, t requests.Type, payload map[string]any, withAttachment bool) string {
	schema, _ := requests.SchemaFor(t)
	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s submitted successfully!\n\n", optionLabel(schema))
	fmt.Fprintf(&b, "Your Query ID: #%s\n", id)
	if details := requests.Describe(t, payload); details != "" {
		b.WriteString("\n📋 Submitted Details:\n")
		b.WriteString(details)
		b.WriteString("\n")
	}
	if withAttachment {
		b.WriteString("📎 Attachment included\n")
	}
	b.WriteString("\nOur team has been notified and will respond shortly. You can check the status by typing \"my requests\".")
	return b.String()
}

func statusEmoji(s requests.Status) string {
	switch s {
	case requests.StatusCompleted:
		return "✅"
	case requests.StatusRejected:
		return "❌"
	default:
		return "⏳"
	}
}

// statusListing renders the user's recent requests.
func statusListing(records []requests.Record) string {
	if len(records) == 0 {
		return noRequests
	}
	var b strings.Builder
	b.WriteString("📋 Your Recent Requests:\n\n")
	for i, r := range records {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "%s Request #%s\n", statusEmoji(r.Status), r.ID)
		fmt.Fprintf(&b, "Type: %s\n", r.Type)
		fmt.Fprintf(&b, "Status: %s\n", r.Status)
		fmt.Fprintf(&b, "Date: %s\n", r.CreatedAt.Format("2006-01-02"))
		if r.OperatorResponse != "" {
			fmt.Fprintf(&b, "Response: %s\n", r.OperatorResponse)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
