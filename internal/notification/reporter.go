package notification

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StatsReporter は接続中のグループ数と接続数を定期的にログ出力する。
type StatsReporter struct {
	hub   *Hub
	audit *AuditLog
	cron  *cron.Cron
	log   zerolog.Logger
}

// NewStatsReporter はscheduleの間隔で統計を出力するReporterを生成する。
// scheduleはcronの標準形式か"@every 1m"のような記述子を受け付ける。
func NewStatsReporter(schedule string, hub *Hub, audit *AuditLog, log zerolog.Logger) (*StatsReporter, error) {
	r := &StatsReporter{
		hub:   hub,
		audit: audit,
		cron:  cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
		log:   log,
	}
	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, fmt.Errorf("統計スケジュールの解析に失敗 (%q): %w", schedule, err)
	}
	return r, nil
}

// Report は現在の統計を1回出力する。
func (r *StatsReporter) Report() {
	groups, connections := r.hub.Stats()
	r.log.Info().
		Int("groups", groups).
		Int("connections", connections).
		Int64("audit_dropped", r.audit.Dropped()).
		Msg("接続統計")
}

// Run はctxがキャンセルされるまでスケジュールを実行する。
// 停止時は実行中のジョブの完了を待つ。
func (r *StatsReporter) Run(ctx context.Context) error {
	r.cron.Start()
	<-ctx.Done()
	<-r.cron.Stop().Done()
	return nil
}
