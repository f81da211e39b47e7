package attack

import "fmt"

// Stage names the phase of an attack run an error belongs to. The
// engine logs it and moves to the next domain. A stage that fails
// before the victim replay leaves the variant's verdict pending; a
// failed replay or marker-page visit records the variant as not
// vulnerable first.
type Stage string

const (
	StageInit          Stage = "init"
	StageAttackerLogin Stage = "attacker_login"
	StageCapture       Stage = "capture"
	StageMutate        Stage = "mutate"
	StageVictimSetup   Stage = "victim_setup"
	StageReplay        Stage = "replay"
	StageMarkerPage    Stage = "marker_page"
	StagePersist       Stage = "persist"
)

// Error wraps a failure with the run it belongs to.
type Error struct {
	Stage  Stage
	Domain string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("attack %s: stage %s: %v", e.Domain, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func stageErr(stage Stage, domainName string, err error) *Error {
	return &Error{Stage: stage, Domain: domainName, Err: err}
}
