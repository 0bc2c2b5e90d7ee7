package simplysats

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DeepLinkScheme is the URI scheme the desktop shell registers for the
// wallet.
const DeepLinkScheme = "simplysats"

// ActionKind enumerates the deep-link actions third-party apps may
// request.
type ActionKind int

// The deep-link actions.
const (
	// ActionConnect requests the wallet's identity public key.
	ActionConnect ActionKind = iota

	// ActionSign requests a signature over arbitrary data with a
	// protocol-scoped key.
	ActionSign

	// ActionCreate requests a payment transaction.
	ActionCreate

	// ActionAuth asks whether the wallet is unlocked.
	ActionAuth
)

// ErrUnknownDeepLink is returned for URIs outside the supported surface.
var ErrUnknownDeepLink = errors.New("unsupported deep link")

// PaymentOutput is one requested output of an ActionCreate link.
type PaymentOutput struct {
	Address  string
	Satoshis int64
}

// Action is a parsed deep link.
type Action struct {
	Kind ActionKind

	// Sign parameters.
	Data     string
	Protocol string
	KeyID    string

	// Create parameters.
	Description string
	Outputs     []PaymentOutput
}

// ParseDeepLink parses a simplysats:// URI into a typed action:
//
//	simplysats://connect
//	simplysats://sign?data=...&protocol=...&keyId=...
//	simplysats://action?description=...&outputs=addr:sats,addr:sats
//	simplysats://tx?...            (alias of action)
//	simplysats://auth
func ParseDeepLink(raw string) (*Action, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownDeepLink, err)
	}
	if u.Scheme != DeepLinkScheme {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnknownDeepLink,
			u.Scheme)
	}

	query := u.Query()

	switch u.Host {
	case "connect":
		return &Action{Kind: ActionConnect}, nil

	case "auth":
		return &Action{Kind: ActionAuth}, nil

	case "sign":
		action := &Action{
			Kind:     ActionSign,
			Data:     query.Get("data"),
			Protocol: query.Get("protocol"),
			KeyID:    query.Get("keyId"),
		}
		if action.Data == "" {
			return nil, fmt.Errorf("%w: sign without data",
				ErrUnknownDeepLink)
		}
		return action, nil

	case "action", "tx":
		outputs, err := parseOutputs(query.Get("outputs"))
		if err != nil {
			return nil, err
		}
		return &Action{
			Kind:        ActionCreate,
			Description: query.Get("description"),
			Outputs:     outputs,
		}, nil

	default:
		return nil, fmt.Errorf("%w: action %q", ErrUnknownDeepLink,
			u.Host)
	}
}

// parseOutputs decodes the outputs parameter: comma separated
// address:satoshis pairs.
func parseOutputs(encoded string) ([]PaymentOutput, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: payment without outputs",
			ErrUnknownDeepLink)
	}

	var outputs []PaymentOutput
	for _, pair := range strings.Split(encoded, ",") {
		addr, satsStr, found := strings.Cut(pair, ":")
		if !found || addr == "" {
			return nil, fmt.Errorf("%w: malformed output %q",
				ErrUnknownDeepLink, pair)
		}

		sats, err := strconv.ParseInt(satsStr, 10, 64)
		if err != nil || sats <= 0 {
			return nil, fmt.Errorf("%w: malformed amount %q",
				ErrUnknownDeepLink, satsStr)
		}

		outputs = append(outputs, PaymentOutput{
			Address:  addr,
			Satoshis: sats,
		})
	}
	return outputs, nil
}
