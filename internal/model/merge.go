package model

import "strings"

// Merge folds an adapter's PartialRecord into the aggregate record.
//
// The merge rule is confidence-respecting: a field already populated keeps
// its value unless the incoming confidence is strictly greater than the
// stored one. Empty fields are always filled. Collections are unioned with
// de-duplication, never appended blindly. The function is total: any
// partial, including the zero value, merges without error.
func Merge(rec *RestaurantRecord, p PartialRecord, phase Phase) {
	if rec.Provenance == nil {
		rec.Provenance = map[FieldName]Provenance{}
	}

	mergeString(rec, FieldRestaurantName, p.Name, p.Source, phase, func(v string) {
		if rec.Name != "" && rec.Name != v {
			rec.NameCandidates = appendUnique(rec.NameCandidates, rec.Name)
		}
		rec.Name = v
	})
	if p.Name != nil && p.Name.Value != rec.Name {
		// Losing candidates are kept for the cleaner's canonicalization pass.
		rec.NameCandidates = appendUnique(rec.NameCandidates, p.Name.Value)
	}

	mergeString(rec, FieldAddress, p.AddressRaw, p.Source, phase, func(v string) {
		rec.Address = Address{Raw: v}
	})
	mergeString(rec, FieldPhone, p.Phone, p.Source, phase, func(v string) {
		rec.Phone = Phone{Raw: v}
	})
	mergeString(rec, FieldEmail, p.Email, p.Source, phase, func(v string) {
		rec.Email = v
	})
	mergeString(rec, FieldHours, p.Hours, p.Source, phase, func(v string) {
		rec.Hours = v
	})

	if len(p.MenuItems) > 0 {
		rec.MenuItems = mergeMenuItems(rec.MenuItems, p.MenuItems)
		bumpCollectionProvenance(rec, FieldMenu, p.Source, phase, maxItemConfidence(p.MenuItems))
	}

	if len(p.Screenshots) > 0 {
		rec.Screenshots = mergeScreenshots(rec.Screenshots, p.Screenshots)
		bumpCollectionProvenance(rec, FieldScreenshots, p.Source, phase, maxShotConfidence(p.Screenshots))
	}

	if len(p.SocialLinks) > 0 {
		for _, l := range p.SocialLinks {
			rec.SocialLinks = appendUnique(rec.SocialLinks, l)
		}
		bumpCollectionProvenance(rec, FieldSocial, p.Source, phase, 0.9)
	}

	for _, pg := range p.Pages {
		if !hasPage(rec.Pages, pg.URL) {
			rec.Pages = append(rec.Pages, pg)
		}
	}
}

// mergeString applies the scalar merge rule: fill empty, replace only on
// strictly greater confidence.
func mergeString(rec *RestaurantRecord, field FieldName, in *StringField, source string, phase Phase, set func(string)) {
	if in == nil || strings.TrimSpace(in.Value) == "" {
		return
	}
	existing, populated := rec.Provenance[field]
	if populated && in.Confidence <= existing.Confidence {
		return
	}
	set(strings.TrimSpace(in.Value))
	rec.Provenance[field] = Provenance{Source: source, Phase: phase, Confidence: in.Confidence}
}

// bumpCollectionProvenance records provenance for collection fields without
// ever lowering the stored confidence.
func bumpCollectionProvenance(rec *RestaurantRecord, field FieldName, source string, phase Phase, confidence float64) {
	existing, populated := rec.Provenance[field]
	if populated && confidence <= existing.Confidence {
		return
	}
	rec.Provenance[field] = Provenance{Source: source, Phase: phase, Confidence: confidence}
}

// mergeMenuItems unions two menu item lists by dedupe key. On collision the
// higher-confidence copy wins, with description and category backfilled
// from the other copy when missing.
func mergeMenuItems(existing, incoming []MenuItem) []MenuItem {
	index := make(map[string]int, len(existing))
	out := make([]MenuItem, len(existing))
	copy(out, existing)
	for i, m := range out {
		index[m.DedupeKey()] = i
	}

	for _, m := range incoming {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		i, dup := index[m.DedupeKey()]
		if !dup {
			index[m.DedupeKey()] = len(out)
			out = append(out, m)
			continue
		}
		kept := out[i]
		if m.Confidence > kept.Confidence {
			kept, m = m, kept
		}
		if kept.Description == "" {
			kept.Description = m.Description
		}
		if kept.Category == "" {
			kept.Category = m.Category
		}
		out[i] = kept
	}
	return out
}

func mergeScreenshots(existing, incoming []Screenshot) []Screenshot {
	seen := make(map[string]bool, len(existing))
	out := make([]Screenshot, len(existing))
	copy(out, existing)
	for _, s := range out {
		seen[s.SourceURL+"\x00"+s.PageType] = true
	}
	for _, s := range incoming {
		key := s.SourceURL + "\x00" + s.PageType
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func maxItemConfidence(items []MenuItem) float64 {
	max := 0.0
	for _, m := range items {
		if m.Confidence > max {
			max = m.Confidence
		}
	}
	return max
}

func maxShotConfidence(shots []Screenshot) float64 {
	max := 0.0
	for _, s := range shots {
		if s.QualityScore > max {
			max = s.QualityScore
		}
	}
	return max
}

func appendUnique(list []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return list
	}
	for _, e := range list {
		if strings.EqualFold(e, v) {
			return list
		}
	}
	return append(list, v)
}

func hasPage(pages []DiscoveredPage, url string) bool {
	for _, p := range pages {
		if p.URL == url {
			return true
		}
	}
	return false
}
