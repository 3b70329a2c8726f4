package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal TwiML builder for the answered-call bridge. No provider SDK.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName xml.Name  `xml:"Dial"`
	Timeout int       `xml:"timeout,attr,omitempty"`
	Number  string    `xml:"Number,omitempty"`
	Sip     *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

// RenderTwiML maps a Bridge decision to TwiML.
func RenderTwiML(b Bridge) (string, error) {
	var r twimlResponse

	switch b.Action {
	case BridgeReject:
		r.Verbs = append(r.Verbs, twimlReject{Reason: "busy"})
	case BridgeHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case BridgeConnect:
		if strings.TrimSpace(b.ConnectTo) == "" {
			return "", errors.New("telephony: connect_to required for connect action")
		}
		d := twimlDial{Timeout: 20}
		if strings.HasPrefix(strings.ToLower(b.ConnectTo), "sip:") {
			d.Sip = &twimlSip{URI: b.ConnectTo}
		} else {
			d.Number = b.ConnectTo
		}
		r.Verbs = append(r.Verbs, d)
	default:
		return "", errors.New("telephony: unknown bridge action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
