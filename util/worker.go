package util

import (
	"sync"

	"github.com/mohitkumar/autoflow/logger"
	"go.uber.org/zap"
)

type Task any

// Worker drains a buffered channel of tasks on a single goroutine.
type Worker struct {
	name     string
	stop     chan struct{}
	wg       *sync.WaitGroup
	handler  func(Task) error
	taskChan chan Task
}

func NewWorker(name string, wg *sync.WaitGroup, handler func(Task) error, capacity int) *Worker {
	return &Worker{
		taskChan: make(chan Task, capacity),
		name:     name,
		wg:       wg,
		stop:     make(chan struct{}),
		handler:  handler,
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case task := <-w.taskChan:
				w.handle(task)
			case <-w.stop:
				// flush what is already queued
				for {
					select {
					case task := <-w.taskChan:
						w.handle(task)
					default:
						logger.Info("stopping worker", zap.String("worker", w.name))
						return
					}
				}
			}
		}
	}()
}

func (w *Worker) handle(task Task) {
	if err := w.handler(task); err != nil {
		logger.Error("error in executing task in worker", zap.String("worker", w.name), zap.Error(err))
	}
}

// Offer enqueues task without blocking. It reports false when the buffer is full.
func (w *Worker) Offer(task Task) bool {
	select {
	case w.taskChan <- task:
		return true
	default:
		return false
	}
}

func (w *Worker) Stop() {
	close(w.stop)
}
