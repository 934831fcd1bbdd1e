package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/avdeenko/simflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// HistoryRepository archives terminal verification reports for operator
// statistics. The verification flow keeps working when Mongo is absent; this
// repository is only wired when a database is configured.
type HistoryRepository struct {
	collection *mongo.Collection
	logger     *logrus.Logger
}

func NewHistoryRepository(db *mongo.Database, logger *logrus.Logger) *HistoryRepository {
	return &HistoryRepository{
		collection: db.Collection("verification_reports"),
		logger:     logger,
	}
}

type storedReport struct {
	RunID       string        `bson:"run_id"`
	Service     string        `bson:"service"`
	Success     bool          `bson:"success"`
	Reason      string        `bson:"reason"`
	PhoneNumber string        `bson:"phone_number,omitempty"`
	CountryCode string        `bson:"country_code,omitempty"`
	Reused      bool          `bson:"reused"`
	Attempts    int           `bson:"attempts"`
	StartedAt   time.Time     `bson:"started_at"`
	DurationMS  int64         `bson:"duration_ms"`
	CreatedAt   time.Time     `bson:"created_at"`
}

// RecordReport implements service.HistoryRecorder.
func (r *HistoryRepository) RecordReport(ctx context.Context, report *models.VerificationReport) error {
	doc := storedReport{
		RunID:       report.RunID,
		Service:     report.Service,
		Success:     report.Success,
		Reason:      report.Reason,
		PhoneNumber: report.PhoneNumber,
		CountryCode: report.CountryCode,
		Reused:      report.Reused,
		Attempts:    report.Attempts,
		StartedAt:   report.StartedAt,
		DurationMS:  report.Duration.Milliseconds(),
		CreatedAt:   time.Now(),
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert verification report: %w", err)
	}
	return nil
}

// Statistics aggregates run outcomes since the given time.
type Statistics struct {
	TotalRuns      int64            `json:"total_runs"`
	SuccessfulRuns int64            `json:"successful_runs"`
	FailedRuns     int64            `json:"failed_runs"`
	ReusedNumbers  int64            `json:"reused_numbers"`
	ByCountry      map[string]int64 `json:"by_country"`
	ByService      map[string]int64 `json:"by_service"`
}

func (r *HistoryRepository) GetStatistics(ctx context.Context, since time.Time) (*Statistics, error) {
	filter := bson.M{}
	if !since.IsZero() {
		filter["created_at"] = bson.M{"$gte": since}
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer cursor.Close(ctx)

	stats := &Statistics{
		ByCountry: make(map[string]int64),
		ByService: make(map[string]int64),
	}

	for cursor.Next(ctx) {
		var report storedReport
		if err := cursor.Decode(&report); err != nil {
			r.logger.Warnf("Failed to decode stored report: %v", err)
			continue
		}

		stats.TotalRuns++
		if report.Success {
			stats.SuccessfulRuns++
		} else {
			stats.FailedRuns++
		}
		if report.Reused {
			stats.ReusedNumbers++
		}
		if report.CountryCode != "" {
			stats.ByCountry[report.CountryCode]++
		}
		stats.ByService[report.Service]++
	}

	return stats, cursor.Err()
}

// RecentReports returns the latest runs, newest first.
func (r *HistoryRepository) RecentReports(ctx context.Context, limit int64) ([]models.VerificationReport, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent reports: %w", err)
	}
	defer cursor.Close(ctx)

	var reports []models.VerificationReport
	for cursor.Next(ctx) {
		var stored storedReport
		if err := cursor.Decode(&stored); err != nil {
			r.logger.Warnf("Failed to decode stored report: %v", err)
			continue
		}
		reports = append(reports, models.VerificationReport{
			RunID:       stored.RunID,
			Service:     stored.Service,
			Success:     stored.Success,
			Reason:      stored.Reason,
			PhoneNumber: stored.PhoneNumber,
			CountryCode: stored.CountryCode,
			Reused:      stored.Reused,
			Attempts:    stored.Attempts,
			StartedAt:   stored.StartedAt,
			Duration:    time.Duration(stored.DurationMS) * time.Millisecond,
		})
	}

	return reports, cursor.Err()
}

// CreateIndexes sets up the query indexes used by the statistics surface.
func (r *HistoryRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "service", Value: 1}, {Key: "success", Value: 1}}},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create report indexes: %w", err)
	}
	return nil
}
