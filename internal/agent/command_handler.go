package agent

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"lumen-agent/internal/core"
	"lumen-agent/internal/effect"
)

// handleCommand applies one command and reports the outcome to the sender.
// Commands are processed strictly in arrival order; no other goroutine
// touches the engine's writer side.
func (a *Agent) handleCommand(cmd core.Command) {
	outcome := core.Outcome{ID: cmd.ID}

	if cmd.Source == core.SourceRemote && (a.session == nil || !a.session.State().Trusted()) {
		outcome.Err = core.ErrUntrustedSource
	} else {
		switch cmd.Type {
		case core.CmdSetEffect:
			gen, err := a.engine.Commit(cmd.Effect, cmd.Params)
			if err != nil {
				outcome.Err = err
			} else {
				outcome.Generation = gen
				a.status.SetEffect(cmd.Effect, gen)
				a.bus.Publish(core.Event{
					Type: core.EffectChangedEvent,
					Payload: map[string]interface{}{
						"effect":     cmd.Effect,
						"generation": gen,
					},
				})
				log.Info().
					Str("effect", cmd.Effect).
					Uint64("generation", gen).
					Str("source", string(cmd.Source)).
					Msg("effect committed")
			}
		case core.CmdStop:
			gen := a.engine.Stop()
			outcome.Generation = gen
			a.status.SetEffect(string(effect.KindOff), gen)
			a.bus.Publish(core.Event{
				Type: core.EffectChangedEvent,
				Payload: map[string]interface{}{
					"effect":     string(effect.KindOff),
					"generation": gen,
				},
			})
			log.Info().
				Uint64("generation", gen).
				Str("source", string(cmd.Source)).
				Msg("output stopped")
		case core.CmdSetBrightness:
			if cmd.Brightness < 0 || cmd.Brightness > 1 {
				outcome.Err = fmt.Errorf("brightness %g out of range [0, 1]", cmd.Brightness)
			} else {
				a.streamer.SetBrightness(cmd.Brightness)
				a.status.SetBrightness(cmd.Brightness)
				a.bus.Publish(core.Event{
					Type: core.BrightnessChangedEvent,
					Payload: map[string]interface{}{
						"brightness": cmd.Brightness,
					},
				})
				log.Info().
					Float64("brightness", cmd.Brightness).
					Str("source", string(cmd.Source)).
					Msg("brightness changed")
			}
		case core.CmdPing:
			outcome.Generation = a.engine.Generation()
		default:
			outcome.Err = fmt.Errorf("unknown command type %q", cmd.Type)
		}
	}

	if outcome.Err != nil {
		log.Warn().
			Err(outcome.Err).
			Str("command", string(cmd.Type)).
			Str("source", string(cmd.Source)).
			Msg("command rejected")
	}

	if cmd.Reply != nil {
		select {
		case cmd.Reply <- outcome:
		default:
		}
	}
}
