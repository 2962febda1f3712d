package hotkey

import "github.com/rs/zerolog/log"

// fire runs a binding callback; a panicking callback must not end capture
func fire(b Binding) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("key", b.Combo.String()).Msg("Hotkey callback panicked")
		}
	}()
	log.Debug().Str("key", b.Combo.String()).Str("binding", b.Label).Msg("Hotkey pressed")
	b.Trigger()
}
