package conversation

import (
	"strconv"
	"strings"

	"github.com/memohai/intake/internal/requests"
	"github.com/memohai/intake/internal/session"
)

type command int

const (
	commandNone command = iota
	commandReset
	commandChangeStore
	commandMenu
	commandStatus
)

// parseCommand recognizes global commands, which must be the whole message.
func parseCommand(text string) command {
	switch strings.ToLower(strings.Join(strings.Fields(text), " ")) {
	case "reset":
		return commandReset
	case "change store", "back to store":
		return commandChangeStore
	case "menu", "main menu":
		return commandMenu
	case "my requests", "my queries", "status":
		return commandStatus
	default:
		return commandNone
	}
}

// submitIntent asks the engine to record a completed request.
type submitIntent struct {
	Type    requests.Type
	Payload map[string]any
}

// decision is the I/O-free outcome of one turn.
type decision struct {
	next    session.Session
	replies []string
	submit  *submitIntent
	// listStatus asks the engine to append the user's recent requests.
	listStatus bool
}

func stay(sess session.Session, replies ...string) decision {
	return decision{next: sess, replies: replies}
}

func restart(sess session.Session, cat Catalog) decision {
	return decision{next: sess.Reset(), replies: []string{greetingPrompt(cat)}}
}

// choice parses a 1-based menu selection. ok is false for anything outside 1..n.
func choice(text string, n int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v - 1, true
}

// transition computes the next session and replies for text typed at the
// session's current step.
func transition(cat Catalog, sess session.Session, text string) decision {
	switch parseCommand(text) {
	case commandReset, commandChangeStore:
		return restart(sess, cat)
	case commandMenu:
		if !sess.HasStore() {
			return restart(sess, cat)
		}
		return decision{next: sess.ToMainMenu(), replies: []string{mainMenuPrompt()}}
	case commandStatus:
		return decision{next: sess, listStatus: true}
	}

	step := sess.Step
	if !step.Valid() {
		step = session.StepGreeting
	}
	if step.NeedsStore() && !sess.HasStore() {
		return restart(sess, cat)
	}

	switch step {
	case session.StepGreeting:
		return restart(sess, cat)

	case session.StepSelectRegion:
		idx, ok := choice(text, len(cat.Regions))
		if !ok {
			return stay(sess, invalidRegion(cat), greetingPrompt(cat))
		}
		region := cat.Regions[idx]
		next := sess
		next.Step = session.StepSelectStore
		next.SelectedRegion = region.Name
		next.SelectedStore = ""
		return decision{next: next, replies: []string{storePrompt(region)}}

	case session.StepSelectStore:
		region, ok := cat.Region(sess.SelectedRegion)
		if !ok {
			return restart(sess, cat)
		}
		idx, ok := choice(text, len(region.Stores))
		if !ok {
			return stay(sess, invalidStore)
		}
		next := sess
		next.Step = session.StepMainMenu
		next.SelectedStore = region.Stores[idx]
		return decision{next: next, replies: []string{"✅ Store selected: " + next.SelectedStore, mainMenuPrompt()}}

	case session.StepMainMenu:
		idx, ok := choice(text, mainMenuSize)
		if !ok {
			return stay(sess, invalidOption(mainMenuSize), mainMenuPrompt())
		}
		next := sess
		switch idx {
		case 0:
			next.Step = session.StepQuery
			return decision{next: next, replies: []string{queryMenuPrompt()}}
		case 1:
			next.Step = session.StepApproval
			return decision{next: next, replies: []string{detailsPrompt(requests.TypeOverSaleApproval)}}
		case 2:
			next.Step = session.StepDocument
			return decision{next: next, replies: []string{documentMenuPrompt()}}
		case 3:
			next.Step = session.StepTraining
			return decision{next: next, replies: []string{trainingMenuPrompt(cat)}}
		default:
			next.Step = session.StepEscalation
			return decision{next: next, replies: []string{detailsPrompt(requests.TypeEscalation)}}
		}

	case session.StepQuery:
		idx, ok := choice(text, len(queryOptions))
		if !ok {
			return stay(sess, invalidOption(len(queryOptions)))
		}
		return beginDetails(sess, session.StepQueryDetails, queryOptions[idx])

	case session.StepDocument:
		idx, ok := choice(text, len(documentOptions))
		if !ok {
			return stay(sess, invalidOption(len(documentOptions)))
		}
		t := documentOptions[idx]
		if t == requests.TypeLeaveForm {
			return decision{next: sess, submit: &submitIntent{
				Type:    t,
				Payload: map[string]any{"requestType": string(t), "store": sess.SelectedStore},
			}}
		}
		return beginDetails(sess, session.StepDocumentDetails, t)

	case session.StepTraining:
		idx, ok := choice(text, len(cat.Training))
		if !ok {
			return stay(sess, invalidOption(len(cat.Training)))
		}
		return decision{next: sess.ToMainMenu(), replies: []string{trainingContent(cat.Training[idx])}}

	case session.StepApproval:
		return captureDetails(sess, requests.TypeOverSaleApproval, text)

	case session.StepEscalation:
		return captureDetails(sess, requests.TypeEscalation, text)

	case session.StepQueryDetails, session.StepDocumentDetails:
		if !sess.ActiveRequestType.Valid() {
			return decision{next: sess.ToMainMenu(), replies: []string{mainMenuPrompt()}}
		}
		return captureDetails(sess, sess.ActiveRequestType, text)
	}
	return restart(sess, cat)
}

func beginDetails(sess session.Session, step session.Step, t requests.Type) decision {
	next := sess
	next.Step = step
	next.ActiveRequestType = t
	next.PendingAttachment = nil
	return decision{next: next, replies: []string{detailsPrompt(t)}}
}

// captureDetails parses positional fields; too few lines re-prompt without
// touching the session.
func captureDetails(sess session.Session, t requests.Type, text string) decision {
	payload, err := requests.Parse(t, text)
	if err != nil {
		return stay(sess, retryPrompt(t))
	}
	return decision{next: sess, submit: &submitIntent{Type: t, Payload: payload}}
}
