// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/iyemte/collector-agent-and-server/internal/wire"
	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

const (
	databaseName      = "system_monitoring"
	profileCollection = "system_initial_data"
	sampleCollection  = "system_variable_data"

	operationTimeout = 10 * time.Second
)

// Mongo persists records in MongoDB through a single managed client. The
// driver maintains its own connection pool, so one client is shared by all
// connection handlers for the process lifetime.
type Mongo struct {
	client   *mongo.Client
	profiles *mongo.Collection
	samples  *mongo.Collection
	logger   logr.Logger
}

// NewMongo connects to the given MongoDB URI and verifies the connection
// with a ping before returning.
func NewMongo(ctx context.Context, uri string, logger logr.Logger) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb is not reachable at %s: %w", uri, err)
	}

	db := client.Database(databaseName)
	return &Mongo{
		client:   client,
		profiles: db.Collection(profileCollection),
		samples:  db.Collection(sampleCollection),
		logger:   logger.WithName("mongo"),
	}, nil
}

// UpsertProfile stores the profile document keyed by machine identity,
// replacing any previous profile for the same machine.
func (m *Mongo) UpsertProfile(ctx context.Context, machineID string, rec record.Record) error {
	record.StampMachineID(rec, machineID)
	record.StampTimestamp(rec, wire.Timestamp(time.Now()))

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	result, err := m.profiles.UpdateOne(opCtx,
		bson.M{record.FieldMachineID: machineID},
		bson.M{"$set": rec},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile for machine %s: %w", machineID, err)
	}

	m.logger.Info("stored machine profile",
		"machine_id", machineID,
		"matched", result.MatchedCount,
		"upserted", result.UpsertedCount)
	return nil
}

// AppendSample inserts the sample document.
func (m *Mongo) AppendSample(ctx context.Context, rec record.Record) error {
	record.StampTimestamp(rec, wire.Timestamp(time.Now()))

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	result, err := m.samples.InsertOne(opCtx, rec)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}

	m.logger.V(1).Info("stored sample", "id", result.InsertedID)
	return nil
}

// Ping verifies the backend is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	return m.client.Ping(opCtx, readpref.Primary())
}

// Stats returns document counts for the periodic server stats log.
func (m *Mongo) Stats(ctx context.Context) (profiles, samples int64, err error) {
	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	profiles, err = m.profiles.CountDocuments(opCtx, bson.M{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	samples, err = m.samples.CountDocuments(opCtx, bson.M{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return profiles, samples, nil
}

// Close releases the client and its pooled connections.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
