package consultation

// Status é o estado de uma consulta. Os valores são os rótulos exibidos no painel.
type Status string

const (
	StatusPending   Status = "Confirmação Pendente"
	StatusWaiting   Status = "Aguardando"
	StatusAttended  Status = "Atendido"
	StatusCancelled Status = "Cancelado"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusWaiting, StatusAttended, StatusCancelled:
		return true
	}
	return false
}

// Event dispara uma transição.
type Event string

const (
	EventConfirm Event = "confirm" // paciente confirma pelo link
	EventDecline Event = "decline" // paciente recusa pelo link
	EventAttend  Event = "attend"
	EventCancel  Event = "cancel"
)

var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventConfirm: StatusWaiting,
		EventDecline: StatusCancelled,
		EventCancel:  StatusCancelled,
	},
	StatusWaiting: {
		EventAttend: StatusAttended,
		EventCancel: StatusCancelled,
	},
}

// Transition returns the state reached from `from` on ev.
func Transition(from Status, ev Event) (Status, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, &InvalidTransitionError{From: from, Event: ev}
}

// CanTransition reports whether some event leads from `from` to `to`.
// Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
