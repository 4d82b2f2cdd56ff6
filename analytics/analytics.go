package analytics

import (
	"fmt"
	"os"
	"sync"

	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
	BufferSize    int
}

type DataCollectorType string

const NOOP_DATA_COLLECTOR DataCollectorType = "NOOP_DATA_COLLECTOR"
const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"

// DataCollector exports execution records outside the run store.
type DataCollector interface {
	RecordAction(run *model.RunInstance, rec model.ExecutionRecord)
	Start()
	Stop()
}

func NewDataCollector(config DataCollectorConfig, wg *sync.WaitGroup) (DataCollector, error) {
	switch config.CollectorType {
	case "", NOOP_DATA_COLLECTOR:
		return nil, nil
	case LOG_FILE_DATA_COLLECTOR:
		c, err := NewLogFileDataCollector(config.FileName, config.BufferSize, wg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown data collector %s", config.CollectorType)
}

type collectedAction struct {
	workflowId string
	runId      string
	entityId   string
	rec        model.ExecutionRecord
}

// LogFileDataCollector appends one JSON line per execution record to a file.
// Writes happen on a worker goroutine so dispatch never waits on disk.
type LogFileDataCollector struct {
	fileName string
	file     *os.File
	logger   *zap.Logger
	worker   *util.Worker
}

func NewLogFileDataCollector(fileName string, bufferSize int, wg *sync.WaitGroup) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	encoderConfig.CallerKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), zapcore.InfoLevel)
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	lc := &LogFileDataCollector{
		fileName: fileName,
		file:     logFile,
		logger:   zap.New(core),
	}
	lc.worker = util.NewWorker("analytics-"+fileName, wg, lc.write, bufferSize)
	return lc, nil
}

func (lc *LogFileDataCollector) Start() {
	lc.worker.Start()
}

// Stop asks the worker to flush queued records and exit. Close the file
// after the wait group is done.
func (lc *LogFileDataCollector) Stop() {
	lc.worker.Stop()
}

func (lc *LogFileDataCollector) Close() error {
	lc.logger.Sync()
	return lc.file.Close()
}

func (lc *LogFileDataCollector) RecordAction(run *model.RunInstance, rec model.ExecutionRecord) {
	task := collectedAction{workflowId: run.WorkflowId, runId: run.Id, entityId: run.EntityId, rec: rec}
	if !lc.worker.Offer(task) {
		logger.Warn("analytics buffer full, dropping record", zap.String("runId", run.Id), zap.Int("step", rec.StepIndex))
	}
}

func (lc *LogFileDataCollector) write(task util.Task) error {
	a, ok := task.(collectedAction)
	if !ok {
		return fmt.Errorf("unexpected analytics task %T", task)
	}
	fields := []zap.Field{
		zap.String("workflow", a.workflowId),
		zap.String("runId", a.runId),
		zap.String("entity", a.entityId),
		zap.Int("step", a.rec.StepIndex),
		zap.String("action", a.rec.ActionType),
		zap.Time("attemptedAt", a.rec.AttemptedAt),
		zap.Float64("durationSeconds", a.rec.DurationSeconds),
	}
	if a.rec.ExternalId != "" {
		fields = append(fields, zap.String("externalId", a.rec.ExternalId))
	}
	if a.rec.Outcome == model.OUTCOME_SUCCESS {
		lc.logger.Info("success", fields...)
	} else {
		lc.logger.Info("failure", append(fields, zap.String("reason", a.rec.ErrorReason))...)
	}
	return nil
}
