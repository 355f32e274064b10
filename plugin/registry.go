package plugin

import "fmt"

// PushSources is a global map of sources that deliver through a Sink.
var PushSources = map[string]func(SourceOptions) (PushSource, error){
	"synth": func(o SourceOptions) (PushSource, error) {
		s, err := NewSynthSource(o)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	"file": func(o SourceOptions) (PushSource, error) {
		f, err := NewFileSource(o)
		if err != nil {
			return nil, err
		}
		return f, nil
	},
	"audio": func(o SourceOptions) (PushSource, error) {
		a, err := NewAudioSource(o)
		if err != nil {
			return nil, err
		}
		return a, nil
	},
}

// PollSources is a global map of sources the consumer reads directly.
var PollSources = map[string]func(SourceOptions) (PollSource, error){
	"rtl": func(o SourceOptions) (PollSource, error) {
		r, err := NewRTLSource(o)
		if err != nil {
			return nil, err
		}
		return r, nil
	},
}

// SourceLookup opens the named source. Exactly one of the returned
// sources is non-nil when err is nil.
func SourceLookup(name string, o SourceOptions) (PushSource, PollSource, error) {
	if factory, ok := PushSources[name]; ok {
		src, err := factory(o)
		return src, nil, err
	}
	if factory, ok := PollSources[name]; ok {
		src, err := factory(o)
		return nil, src, err
	}
	return nil, nil, fmt.Errorf("unknown source: %s", name)
}
