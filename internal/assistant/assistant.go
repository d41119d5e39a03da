// Package assistant answers patient questions about their health record.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jimdaga/amma-portal/internal/emr"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/samber/lo"
)

// Reply sources
const (
	SourceModel    = "model"
	SourceKeywords = "keywords"
)

const maxHistory = 10

// SnapshotSource finds a patient's most recent health snapshot.
type SnapshotSource interface {
	LatestForPatient(ctx context.Context, patientEmail string) (*models.HealthSnapshot, error)
}

// Reply is the assistant's answer.
type Reply struct {
	Reply string `json:"reply"`
	// Source is "model" or "keywords".
	Source string `json:"source"`
	// SuggestVideo is set when a medication video would help.
	SuggestVideo bool `json:"suggest_video"`
}

// Service answers with the chat model when one is configured and falls back
// to keyword replies otherwise.
type Service struct {
	completer Completer
	snapshots SnapshotSource
}

// NewService creates a Service. completer may be nil.
func NewService(completer Completer, snapshots SnapshotSource) *Service {
	return &Service{completer: completer, snapshots: snapshots}
}

// Answer replies to message in the context of the patient's record.
func (s *Service) Answer(ctx context.Context, patientEmail, patientName, message string, history []Message) (*Reply, error) {
	snap, err := s.snapshots.LatestForPatient(ctx, patientEmail)
	if errors.Is(err, emr.ErrNoSnapshot) {
		snap = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load health record: %w", err)
	}

	suggest := Classify(message) == TopicMedication

	if s.completer != nil {
		messages := make([]Message, 0, maxHistory+2)
		messages = append(messages, Message{Role: "system", Content: SystemPrompt(patientName, snap)})
		messages = append(messages, trimHistory(history)...)
		messages = append(messages, Message{Role: "user", Content: message})

		text, err := s.completer.Complete(ctx, messages)
		if err == nil {
			return &Reply{Reply: text, Source: SourceModel, SuggestVideo: suggest}, nil
		}
		slog.Warn("Chat model failed, using keyword replies", "patient", patientEmail, "error", err)
	}

	return &Reply{Reply: KeywordReply(message, snap), Source: SourceKeywords, SuggestVideo: suggest}, nil
}

func trimHistory(history []Message) []Message {
	valid := lo.Filter(history, func(m Message, _ int) bool {
		return (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != ""
	})
	if len(valid) > maxHistory {
		valid = valid[len(valid)-maxHistory:]
	}
	return valid
}

// SystemPrompt describes the patient's record to the chat model.
func SystemPrompt(patientName string, snap *models.HealthSnapshot) string {
	name := patientName
	if name == "" {
		name = "the patient"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly AI health assistant helping %s understand their health. ", name)
	b.WriteString("ALWAYS use very simple words a 10-year-old could understand. Be warm and caring.\n")

	if snap == nil {
		b.WriteString("\nNo health record has been synced yet. Do not guess about diagnoses or medicines.\n")
	} else {
		if len(snap.Diagnoses) > 0 {
			b.WriteString("\nDIAGNOSES:\n")
			for _, d := range snap.Diagnoses {
				fmt.Fprintf(&b, "- %s (%s, %s)\n", d.Name, d.Priority, d.Status)
			}
		}
		if len(snap.Medications) > 0 {
			b.WriteString("\nMEDICINES (explain what each does simply):\n")
			for i, m := range snap.Medications {
				fmt.Fprintf(&b, "%d. %s - %s\n", i+1, m.Name, m.Sig)
			}
		}
		if len(snap.Allergies) > 0 {
			names := lo.Map(snap.Allergies, func(a models.Allergy, _ int) string {
				if a.Reaction == "" {
					return a.Substance
				}
				return fmt.Sprintf("%s (%s)", a.Substance, a.Reaction)
			})
			fmt.Fprintf(&b, "\nALLERGIC TO: %s\n", strings.Join(names, ", "))
		}
		if snap.ClinicalNotes != "" {
			fmt.Fprintf(&b, "\nDOCTOR'S NOTES:\n%s\n", snap.ClinicalNotes)
		}
	}

	b.WriteString("\nRULES FOR YOUR RESPONSES:\n")
	b.WriteString("- Use VERY simple words\n")
	b.WriteString("- Keep answers short (2-4 sentences max)\n")
	b.WriteString("- Say \"Would you like a video that explains this?\" when helpful\n")
	b.WriteString("- If emergency symptoms, say CALL 911 or doctor right away\n")
	return b.String()
}
