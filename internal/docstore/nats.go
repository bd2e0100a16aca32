package docstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var subjectReplacer = strings.NewReplacer("/", ".", ".", "_", " ", "_", "*", "_", ">", "_")

// natsSubject maps "chats/abc" to "docstore.chats.abc".
func natsSubject(path string) string {
	return "docstore." + subjectReplacer.Replace(path)
}

// NatsNotifier carries change notifications over NATS core subjects.
type NatsNotifier struct {
	nc  *nats.Conn
	log *zap.Logger
}

func NewNatsNotifier(nc *nats.Conn, log *zap.Logger) *NatsNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &NatsNotifier{nc: nc, log: log}
}

func (n *NatsNotifier) Publish(_ context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return n.nc.Publish(natsSubject(snap.Path), payload)
}

func (n *NatsNotifier) Subscribe(_ context.Context, path string, fn func(Snapshot)) (func(), error) {
	sub, err := n.nc.Subscribe(natsSubject(path), func(msg *nats.Msg) {
		var snap Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			n.log.Warn("dropping malformed change notification", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		fn(snap)
	})
	if err != nil {
		return nil, errors.Wrap(err, "nats subscribe")
	}
	// Make sure the server has registered interest before the caller reads
	// the initial snapshot.
	if err := n.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, errors.Wrap(err, "nats flush")
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (n *NatsNotifier) Close() error {
	return n.nc.Drain()
}
