package pipeline

// Decorator stamps input-level fields on every decoded event.
type Decorator struct {
	Type     string            `yaml:"type_tag,omitempty"`
	Tags     []string          `yaml:"tags,omitempty"`
	AddField map[string]string `yaml:"add_field,omitempty"`
}

func (d Decorator) Apply(ev *Event) {
	if d.Type != "" && ev.Type() == "" {
		ev.Set("type", d.Type)
	}
	for _, t := range d.Tags {
		ev.AddTag(t)
	}
	for k, v := range d.AddField {
		if _, exists := ev.Fields[k]; !exists {
			ev.Set(k, v)
		}
	}
}

// Filter is the admission check an output runs before handling an event.
// An empty Filter admits everything.
type Filter struct {
	Type        string   `yaml:"type,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	ExcludeTags []string `yaml:"exclude_tags,omitempty"`
}

func (f Filter) Admit(ev *Event) bool {
	if ev == Shutdown {
		return true
	}
	if f.Type != "" && ev.Type() != f.Type {
		return false
	}
	have := make(map[string]struct{}, len(ev.Tags()))
	for _, t := range ev.Tags() {
		have[t] = struct{}{}
	}
	for _, t := range f.Tags {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	for _, t := range f.ExcludeTags {
		if _, ok := have[t]; ok {
			return false
		}
	}
	return true
}
