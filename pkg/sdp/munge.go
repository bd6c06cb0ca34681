// Package sdp post-processes locally generated session descriptions before
// they are handed to the call-control API.
package sdp

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// ForceActiveSetup rewrites the DTLS connection role of an answer to an
// explicit "active". The call-control side rejects answers whose role is
// left undetermined (actpass) or passive, so the attribute is normalized on
// every media section regardless of what the stack negotiated.
func ForceActiveSetup(answer string) (string, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.UnmarshalString(answer); err != nil {
		return "", fmt.Errorf("parse answer sdp: %w", err)
	}

	for i, a := range desc.Attributes {
		if a.Key == "setup" {
			desc.Attributes[i].Value = "active"
		}
	}
	for _, m := range desc.MediaDescriptions {
		for i, a := range m.Attributes {
			if a.Key == "setup" {
				m.Attributes[i].Value = "active"
			}
		}
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal answer sdp: %w", err)
	}
	return string(out), nil
}
