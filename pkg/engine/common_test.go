package engine_test

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"

	"go.uber.org/mock/gomock"

	"coastwatch.dev/alert-engine/pkg/db"
	"coastwatch.dev/alert-engine/pkg/engine"
	"coastwatch.dev/alert-engine/pkg/engine/mocks"
	"coastwatch.dev/alert-engine/pkg/models"
)

func GetMockEngineWithMemorySqliteDialector(t *testing.T, tunables engine.Tunables) (
	*gomock.Controller,
	*engine.Engine,
	*mocks.MockRoster,
) {
	ctrl := gomock.NewController(t)

	mockRoster := mocks.NewMockRoster(ctrl)
	dialector := db.UseMemorySqliteDialector()
	dbInstance := db.GetInstance(dialector) // ensure migrations

	eng := &engine.Engine{
		Db:      *dbInstance,
		Roster:  mockRoster,
		Senders: map[models.Channel]engine.Sender{},
	}
	eng.Init(tunables)

	eng.WithServices(engine.ServiceOpts{
		Thresholds: eng.GetIThresholds(),
		Ingestor:   eng.GetIIngestor(),
		Evaluator:  eng.GetIEvaluator(),
		Aggregator: eng.GetIAggregator(),
		Resolver:   eng.GetIResolver(),
		Dispatcher: eng.GetIDispatcher(),
		Audit:      eng.GetIAudit(),
	})

	return ctrl, eng, mockRoster
}

func ParseLogs(r io.Reader) []any {
	scanner := bufio.NewScanner(r)
	var logs []any

	for scanner.Scan() {
		line := scanner.Text()
		var j any
		if err := json.Unmarshal([]byte(line), &j); err == nil {
			logs = append(logs, j)
		}
	}
	return logs
}
