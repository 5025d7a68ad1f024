package model

// StringField is a present-or-absent string value with a confidence.
// A nil *StringField means the adapter did not produce the field at all.
type StringField struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Str is a convenience constructor for an optional string field.
func Str(value string, confidence float64) *StringField {
	if value == "" {
		return nil
	}
	return &StringField{Value: value, Confidence: confidence}
}

// PartialRecord is a possibly-incomplete RestaurantRecord fragment produced
// by a single adapter. Scalar fields carry per-field confidence; collection
// fields carry per-element confidence where it matters (menu items,
// screenshots).
type PartialRecord struct {
	Source string `json:"source"`

	Name       *StringField `json:"name,omitempty"`
	AddressRaw *StringField `json:"address_raw,omitempty"`
	Phone      *StringField `json:"phone,omitempty"`
	Email      *StringField `json:"email,omitempty"`
	Hours      *StringField `json:"hours,omitempty"`

	MenuItems   []MenuItem       `json:"menu_items,omitempty"`
	Screenshots []Screenshot     `json:"screenshots,omitempty"`
	SocialLinks []string         `json:"social_links,omitempty"`
	Pages       []DiscoveredPage `json:"pages,omitempty"`
}

// IsEmpty reports whether the partial contributes nothing at all.
func (p PartialRecord) IsEmpty() bool {
	return p.Name == nil && p.AddressRaw == nil && p.Phone == nil &&
		p.Email == nil && p.Hours == nil &&
		len(p.MenuItems) == 0 && len(p.Screenshots) == 0 &&
		len(p.SocialLinks) == 0 && len(p.Pages) == 0
}
