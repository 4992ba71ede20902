// Package leader elects a single active settlement engine per vault via
// etcd, so concurrent instances never interleave submissions against the
// same vault sequence number.
package leader

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// Elector campaigns for per-vault leadership.
type Elector struct {
	cli      *clientv3.Client
	session  *concurrency.Session
	election *concurrency.Election
	log      *zap.Logger
}

// NewElector connects to etcd and prepares an election under the vault's
// prefix.
func NewElector(endpoints []string, vault string, log *zap.Logger) (*Elector, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	session, err := concurrency.NewSession(cli, concurrency.WithTTL(15))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	return &Elector{
		cli:      cli,
		session:  session,
		election: concurrency.NewElection(session, "/tva/settlement/leader/"+vault),
		log:      log,
	}, nil
}

// Campaign blocks until this instance becomes leader or ctx is done.
func (e *Elector) Campaign(ctx context.Context, instanceID string) error {
	e.log.Info("campaigning for settlement leadership", zap.String("instance", instanceID))
	if err := e.election.Campaign(ctx, instanceID); err != nil {
		return fmt.Errorf("leadership campaign failed: %w", err)
	}
	e.log.Info("settlement leadership acquired", zap.String("instance", instanceID))
	return nil
}

// Done signals loss of the etcd session; the holder must stop consuming
// events when it fires.
func (e *Elector) Done() <-chan struct{} {
	return e.session.Done()
}

// Resign gives up leadership and closes the connection.
func (e *Elector) Resign(ctx context.Context) error {
	if err := e.election.Resign(ctx); err != nil {
		e.log.Warn("failed to resign leadership", zap.Error(err))
	}
	e.session.Close()
	return e.cli.Close()
}
