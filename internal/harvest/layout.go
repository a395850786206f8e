package harvest

import "fmt"

// Layout holds every selector and string the crawler relies on for the
// source site's page structure.
type Layout struct {
	LandingSignature string
	UsernameField    Selector
	PasswordField    Selector

	PortalLink       Selector
	SessionCookie    string
	SessionKeyPrefix string

	DatabaseMenu     Selector
	SelectAll        Selector
	Databases        []Selector
	ConfirmDatabases Selector
	ScopeMenu        Selector
	ScopeOptions     []Selector
	SearchBox        Selector
	SearchButton     Selector

	FirstResult Selector
	NextControl Selector
	ErrorMarker Selector

	// JumpScript is a format string taking the cursor.
	JumpScript string
	// DetailURLTemplate is a format string taking the cursor and the
	// escaped session token.
	DetailURLTemplate string

	// Extraction selectors are CSS.
	TitleCSS         string
	CitationTitleCSS string
	ParagraphCSS     string
	SourceLabel      string
	DatabaseLabel    string
	AbstractLabel    string
}

// DefaultLayout returns the layout of the EBSCOhost web interface.
func DefaultLayout() Layout {
	return Layout{
		LandingSignature: "EBSCO",
		UsernameField:    CSS(`input[name="user"]`),
		PasswordField:    CSS(`input[name="password"]`),

		PortalLink:       LinkText("EBSCOhost Web"),
		SessionCookie:    "EHost2",
		SessionKeyPrefix: "sid=",

		DatabaseMenu: CSS("#selectDBLink"),
		SelectAll:    CSS(`[name="selectAll"]`),
		Databases: []Selector{
			CSS("#ctrlSelectDb_dbList_ctl08_itemCheck"),
			CSS("#ctrlSelectDb_dbList_ctl16_itemCheck"),
		},
		ConfirmDatabases: CSS("#btnOK"),
		ScopeMenu:        CSS("button.dd-active"),
		ScopeOptions:     []Selector{XPath(`//label[@for='DbTag_1_1']`)},
		SearchBox:        CSS("#Searchbox1"),
		SearchButton:     CSS("#SearchButton"),

		FirstResult: CSS("li.result-list-li a.title-link"),
		NextControl: CSS("input.next"),
		ErrorMarker: CSS("#ErrorMessageLabel"),

		JumpScript:        "__doLinkPostBack('','target~~fulltext||args~~%d','');",
		DetailURLTemplate: "https://web.b.ebscohost.com/ehost/detail/detail?vid=%d&sid=%s&bdata=Jmxhbmc9cnUmc2l0ZT1laG9zdC1saXZl",

		TitleCSS:         "h2.ft-title",
		CitationTitleCSS: "dd.citation-title",
		ParagraphCSS:     "p.body-paragraph",
		SourceLabel:      "Источник:",
		DatabaseLabel:    "База данных:",
		AbstractLabel:    "Реферат:",
	}
}

// LinkText selects an anchor by its visible text.
func LinkText(text string) Selector {
	return XPath(fmt.Sprintf(`//a[normalize-space(.)=%q]`, text))
}

// IDs turns element ids into CSS selectors.
func IDs(ids []string) []Selector {
	out := make([]Selector, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		out = append(out, CSS("#"+id))
	}
	return out
}

// LabelsFor selects <label for=...> elements for the given input ids.
func LabelsFor(ids []string) []Selector {
	out := make([]Selector, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		out = append(out, XPath(fmt.Sprintf(`//label[@for=%q]`, id)))
	}
	return out
}
