package chatbot

import "github.com/calrelay/calrelay/internal/components/delivery"

// Message formats.
const (
	FormatText = "text"
	FormatFlex = "flex"
)

type messageRequest struct {
	Content any `json:"content"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type flexContent struct {
	Type     string `json:"type"`
	AltText  string `json:"altText"`
	Contents bubble `json:"contents"`
}

type bubble struct {
	Type string  `json:"type"`
	Size string  `json:"size"`
	Body flexBox `json:"body"`
}

type flexBox struct {
	Type     string `json:"type"`
	Layout   string `json:"layout"`
	Contents []any  `json:"contents"`
	Margin   string `json:"margin,omitempty"`
	Spacing  string `json:"spacing,omitempty"`
}

type flexText struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Wrap   bool   `json:"wrap"`
	Weight string `json:"weight,omitempty"`
	Size   string `json:"size,omitempty"`
	Color  string `json:"color,omitempty"`
	Margin string `json:"margin,omitempty"`
	Flex   int    `json:"flex,omitempty"`
}

const (
	colorText  = "#222222"
	colorLabel = "#989898"
	colorLink  = "#0E71EB"
)

// content renders r in the configured format.
func content(format string, r delivery.Record) any {
	if format == FormatFlex {
		return calendarCard(r)
	}
	return textContent{Type: "text", Text: r.Text()}
}

// calendarCard is a bubble with a bold title and Time/Details/Editor rows.
func calendarCard(r delivery.Record) flexContent {
	title := flexText{
		Type:   "text",
		Text:   r.Title + " (" + r.Status + ")",
		Wrap:   true,
		Weight: "bold",
		Size:   "xl",
		Color:  colorText,
		Margin: "none",
	}
	return flexContent{
		Type:    "flex",
		AltText: r.Text(),
		Contents: bubble{
			Type: "bubble",
			Size: "giga",
			Body: flexBox{
				Type:   "box",
				Layout: "vertical",
				Contents: []any{
					title,
					cardRow("horizontal", "Time", r.Period(), colorText, "xxl"),
					cardRow("baseline", "Details", r.Description, colorLink, "md"),
					cardRow("baseline", "Editor", r.Editor, colorText, "md"),
				},
				Spacing: "sm",
			},
		},
	}
}

func cardRow(layout, label, value, color, margin string) flexBox {
	return flexBox{
		Type:   "box",
		Layout: layout,
		Contents: []any{
			flexText{Type: "text", Text: label, Wrap: true, Flex: 3, Size: "xs", Color: colorLabel},
			flexText{Type: "text", Text: value, Wrap: true, Flex: 7, Size: "xs", Color: color, Margin: "md"},
		},
		Margin: margin,
	}
}
