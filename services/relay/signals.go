package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cardkeep/signal_layer/internal/domain/signal"
	"github.com/cardkeep/signal_layer/internal/errors"
	"github.com/cardkeep/signal_layer/internal/push"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// =============================================================================
// Signal Operations
// =============================================================================

// Send validates req and drops it into the target's mailbox. The target is
// not checked for existence.
func (s *Service) Send(ctx context.Context, from string, req signaling.SendRequest) error {
	req.Target = strings.TrimSpace(req.Target)
	if req.Type == "" {
		return errors.BadRequest("type is required")
	}
	if req.Target == "" {
		return errors.BadRequest("target is required")
	}
	if !req.Type.Valid() {
		return errors.BadRequest("unknown signal type").WithDetails("type", string(req.Type))
	}

	payload := normalizePayload(req.Data)
	if req.Type == signaling.TypeIncomingCall {
		payload = s.enrichInvite(ctx, from, payload)
	}

	stored, err := s.store.Enqueue(ctx, signal.Signal{
		From:    from,
		Target:  req.Target,
		Type:    req.Type,
		Payload: payload,
	})
	if err != nil {
		s.metrics.RecordStoreError("enqueue")
		return errors.StorageUnavailable(err)
	}

	s.metrics.RecordEnqueue(string(req.Type))
	s.hub.Notify(req.Target)
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"signal_id": stored.ID,
		"type":      string(req.Type),
		"target":    req.Target,
	}).Debug("signal enqueued")

	if req.Type == signaling.TypeIncomingCall {
		s.ring(ctx, from, req.Target, stored.Payload)
	}
	return nil
}

// Poll drains the caller's mailbox in mode. An empty result triggers a reap
// of expired signals.
func (s *Service) Poll(ctx context.Context, user string, mode signaling.Mode) ([]signal.Signal, error) {
	now := s.now()
	sigs, err := s.store.Poll(ctx, user, mode, signal.Cutoff(now))
	if err != nil {
		s.metrics.RecordStoreError("poll")
		return nil, errors.StorageUnavailable(err)
	}

	if len(sigs) == 0 {
		s.reap(ctx, now)
		return sigs, nil
	}

	for _, sig := range sigs {
		if mode.MarksProcessed(sig.Type) {
			s.metrics.RecordDelivery(string(mode), string(sig.Type))
		}
	}
	return sigs, nil
}

// End purges every signal the user sent or received. When target is set a
// call_ended signal is sent to it afterwards.
func (s *Service) End(ctx context.Context, user string, req signaling.EndRequest) (int64, error) {
	purged, err := s.store.Purge(ctx, user)
	if err != nil {
		s.metrics.RecordStoreError("purge")
		return 0, errors.StorageUnavailable(err)
	}
	s.metrics.RecordPurged(purged)

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"purged": purged,
		"target": req.Target,
	}).Info("call ended")

	target := strings.TrimSpace(req.Target)
	if target == "" {
		return purged, nil
	}

	data, err := json.Marshal(signaling.CallEnded{CallID: req.CallID, Reason: req.Reason})
	if err != nil {
		return purged, errors.Internal("encode call_ended", err)
	}
	if err := s.Send(ctx, user, signaling.SendRequest{
		Type:   signaling.TypeCallEnded,
		Target: target,
		Data:   data,
	}); err != nil {
		return purged, err
	}
	return purged, nil
}

// reap deletes expired signals. Failures are logged; the poll that
// triggered it has already succeeded.
func (s *Service) reap(ctx context.Context, now time.Time) {
	n, err := s.store.Reap(ctx, signal.Cutoff(now))
	if err != nil {
		s.metrics.RecordStoreError("reap")
		s.logger.WithContext(ctx).WithError(err).Warn("reap expired signals failed")
		return
	}
	s.metrics.RecordReaped(n)
}

func normalizePayload(data json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return trimmed
}

// enrichInvite replaces any caller_name and caller_avatar the client sent with
// the caller's directory profile. Without a profile those keys are dropped.
func (s *Service) enrichInvite(ctx context.Context, from string, payload json.RawMessage) json.RawMessage {
	if !gjson.ParseBytes(payload).IsObject() {
		s.logger.WithContext(ctx).Debug("incoming_call payload is not an object, skipping enrichment")
		return payload
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(payload, &fields); err != nil {
		return payload
	}
	delete(fields, "caller_name")
	delete(fields, "caller_avatar")

	if s.profiles != nil {
		p, err := s.profiles.Lookup(ctx, from)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("caller", from).Warn("caller profile lookup failed")
		} else {
			if p.DisplayName != "" {
				fields["caller_name"] = mustString(p.DisplayName)
			}
			if p.AvatarURL != "" {
				fields["caller_avatar"] = mustString(p.AvatarURL)
			}
		}
	}

	enriched, err := json.Marshal(fields)
	if err != nil {
		return payload
	}
	return enriched
}

func mustString(v string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// ring asks the push gateway to wake the callee's devices.
func (s *Service) ring(ctx context.Context, from, target string, payload json.RawMessage) {
	invite := gjson.ParseBytes(payload)
	name := invite.Get("caller_name").String()
	if name == "" {
		name = from
	}

	data := map[string]string{
		"type": string(signaling.TypeIncomingCall),
		"from": from,
	}
	for _, key := range []string{"call_id", "call_type", "mode", "room"} {
		if v := invite.Get(key); v.Exists() {
			data[key] = v.String()
		}
	}

	title := "Incoming call"
	if invite.Get("call_type").String() == string(signaling.CallVideo) {
		title = "Incoming video call"
	}
	s.notifier.Notify(ctx, push.Notification{
		UserID: target,
		Title:  title,
		Body:   name + " is calling",
		Data:   data,
	})
}

// Messages converts stored signals to their wire form.
func Messages(sigs []signal.Signal) []signaling.Message {
	out := make([]signaling.Message, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, sig.Message())
	}
	return out
}
