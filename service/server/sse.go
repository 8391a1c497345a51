package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/mintpass/service/controller"
	natspkg "github.com/brojonat/mintpass/service/nats"
)

const keepaliveInterval = 10 * time.Second

// MintStream fans confirmed mint events from JetStream out to SSE clients.
type MintStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewMintStream connects to NATS for streaming mint events.
func NewMintStream(natsURL string, logger *slog.Logger) (*MintStream, error) {
	nc, err := natspkg.Connect(natsURL, "mintpass-sse")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("mint stream initialized", "nats_url", natsURL)

	return &MintStream{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (s *MintStream) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("mint stream closed")
	}
	return nil
}

// startSSE writes the event-stream headers and clears the server write deadline.
func startSSE(w http.ResponseWriter) *http.ResponseController {
	rc := http.NewResponseController(w)
	// Ignored when the writer does not support deadlines.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc.Flush()
	return rc
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return rc.Flush()
}

// handleStreamMints streams confirmed mints over SSE.
// Without an owner path parameter, mints for every owner are streamed.
func handleStreamMints(stream *MintStream, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.PathValue("owner")

		subject := "mints.*"
		ownerDesc := "all owners"
		if owner != "" {
			if err := validateAddress(owner); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			subject = natspkg.Subject(owner)
			ownerDesc = owner
		}

		// Ephemeral consumer, removed by the server once the connection goes away.
		cons, err := stream.js.OrderedConsumer(r.Context(), natspkg.StreamName, jetstream.OrderedConsumerConfig{
			FilterSubjects: []string{subject},
			DeliverPolicy:  jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer", "owner", ownerDesc, "error", err)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		msgs := make(chan jetstream.Msg, 10)
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			select {
			case msgs <- msg:
			case <-r.Context().Done():
			}
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to start consuming messages", "error", err)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}
		defer cc.Stop()

		rc := startSSE(w)
		logger.DebugContext(r.Context(), "SSE client connected", "owner", ownerDesc, "remote_addr", r.RemoteAddr)

		hello, _ := json.Marshal(map[string]string{"owner": ownerDesc})
		if err := writeEvent(w, rc, "connected", hello); err != nil {
			return
		}

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if err := rc.Flush(); err != nil {
					return
				}

			case msg := <-msgs:
				var event natspkg.MintEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event", "error", err)
					continue
				}
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "error", err)
					continue
				}
				if err := writeEvent(w, rc, "mint", data); err != nil {
					return
				}
				logger.DebugContext(r.Context(), "sent mint event",
					"owner", event.OwnerAddress,
					"signature", event.Signature,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "owner", ownerDesc, "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}

// handleSessionEvents streams session snapshots over SSE, starting with the current one.
// Snapshots that arrive while the client is slow are coalesced to the latest.
func handleSessionEvents(ctrl SessionController, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		updates := make(chan controller.Snapshot, 1)
		unsubscribe := ctrl.Subscribe(func(s controller.Snapshot) {
			for {
				select {
				case updates <- s:
					return
				default:
				}
				select {
				case <-updates:
				default:
				}
			}
		})
		defer unsubscribe()

		rc := startSSE(w)
		logger.DebugContext(r.Context(), "session events client connected", "remote_addr", r.RemoteAddr)

		send := func(s controller.Snapshot) error {
			data, err := json.Marshal(snapshotToResponse(s))
			if err != nil {
				return err
			}
			return writeEvent(w, rc, "session", data)
		}
		if err := send(ctrl.Snapshot()); err != nil {
			return
		}

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if err := rc.Flush(); err != nil {
					return
				}
			case s := <-updates:
				if err := send(s); err != nil {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	})
}
