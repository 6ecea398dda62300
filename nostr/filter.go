package nostr

import "encoding/json"

// Filter is a subscription predicate over kind/author/tags/time.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	ETags   []string // "#e" tag values
	PTags   []string // "#p" tag values
	Since   *int64
	Until   *int64
	Limit   int
}

// MarshalJSON emits the NIP-01 REQ filter object. The "#e"/"#p" keys cannot
// be expressed with struct tags, hence the map.
func (f Filter) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{}, 8)
	if len(f.IDs) > 0 {
		obj["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		obj["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		obj["kinds"] = f.Kinds
	}
	if len(f.ETags) > 0 {
		obj["#e"] = f.ETags
	}
	if len(f.PTags) > 0 {
		obj["#p"] = f.PTags
	}
	if f.Since != nil {
		obj["since"] = *f.Since
	}
	if f.Until != nil {
		obj["until"] = *f.Until
	}
	if f.Limit > 0 {
		obj["limit"] = f.Limit
	}
	return json.Marshal(obj)
}

// UnmarshalJSON parses a NIP-01 filter object, the inverse of MarshalJSON.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var obj struct {
		IDs     []string `json:"ids"`
		Authors []string `json:"authors"`
		Kinds   []int    `json:"kinds"`
		ETags   []string `json:"#e"`
		PTags   []string `json:"#p"`
		Since   *int64   `json:"since"`
		Until   *int64   `json:"until"`
		Limit   int      `json:"limit"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = Filter{
		IDs:     obj.IDs,
		Authors: obj.Authors,
		Kinds:   obj.Kinds,
		ETags:   obj.ETags,
		PTags:   obj.PTags,
		Since:   obj.Since,
		Until:   obj.Until,
		Limit:   obj.Limit,
	}
	return nil
}

// Matches reports whether an event satisfies every constraint of the filter.
// Relays apply filters server side; this is used to screen what multiplexed
// connections deliver locally.
func (f Filter) Matches(e *Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if len(f.ETags) > 0 && !tagMatches(e.Tags, "e", f.ETags) {
		return false
	}
	if len(f.PTags) > 0 && !tagMatches(e.Tags, "p", f.PTags) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsInt(haystack []int, needle int) bool {
	for _, n := range haystack {
		if n == needle {
			return true
		}
	}
	return false
}

func tagMatches(tags [][]string, name string, values []string) bool {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name && containsString(values, tag[1]) {
			return true
		}
	}
	return false
}
