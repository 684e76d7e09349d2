package repository

import (
	"context"
	"fmt"
	"time"

	"QuantEngine/internal/domain/models"
	domrepo "QuantEngine/internal/domain/repository"
	pkgch "QuantEngine/pkg/clickhouse"
	applogger "QuantEngine/pkg/logger"
)

const barsTable = "daily_bars"

// CHPriceStore implements PriceStore backed by a ReplacingMergeTree table,
// so re-ingesting a (symbol, date) keeps the latest row.
type CHPriceStore struct {
	ch    *pkgch.Client
	table string
	l     *applogger.Logger
}

var _ domrepo.PriceStore = (*CHPriceStore)(nil)

func NewCHPriceStore(ch *pkgch.Client, l *applogger.Logger) *CHPriceStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHPriceStore{
		ch:    ch,
		table: ch.Database() + "." + barsTable,
		l:     l.Component("price_store"),
	}
}

// SchemaStatements returns the DDL for database.
func SchemaStatements(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
            symbol      LowCardinality(String),
            date        Date,
            close       Float64,
            volume      Float64,
            source      LowCardinality(String),
            ingested_at DateTime DEFAULT now()
        ) ENGINE = ReplacingMergeTree(ingested_at)
        ORDER BY (symbol, date)`, database, barsTable),
	}
}

func (s *CHPriceStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, SchemaStatements(s.ch.Database()))
}

func (s *CHPriceStore) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.DailyBar, error) {
	q := fmt.Sprintf(`
        SELECT symbol, date, close, volume, source
        FROM %s FINAL
        WHERE symbol = ? AND date >= ? AND date <= ?
        ORDER BY date ASC`, s.table)

	rows, err := s.ch.DB().QueryContext(ctx, q, symbol, models.DayOf(from), models.DayOf(to))
	if err != nil {
		s.l.Error("clickhouse get_bars query error", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("get bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.DailyBar, 0, 256)
	for rows.Next() {
		var b models.DailyBar
		if err := rows.Scan(&b.Symbol, &b.Date, &b.Close, &b.Volume, &b.Source); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHPriceStore) SaveBars(ctx context.Context, bars []models.DailyBar) error {
	rows := barRows(bars)
	if len(rows) == 0 {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (symbol, date, close, volume, source) VALUES (?, ?, ?, ?, ?)", s.table)
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		s.l.Error("clickhouse save_bars error", applogger.Int("rows", len(rows)), applogger.Error(err))
		return err
	}
	return nil
}

// barRows drops bars without a symbol or a positive close.
func barRows(bars []models.DailyBar) [][]any {
	rows := make([][]any, 0, len(bars))
	for _, b := range bars {
		if b.Symbol == "" || !(b.Close > 0) || b.Date.IsZero() {
			continue
		}
		rows = append(rows, []any{b.Symbol, models.DayOf(b.Date), b.Close, b.Volume, b.Source})
	}
	return rows
}

func (s *CHPriceStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

// Close is a no-op; the client is owned by the caller.
func (s *CHPriceStore) Close() error { return nil }
