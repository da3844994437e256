package worker

import "sync"

type TaskStop struct{}

type Task interface{}

type TaskHandler interface {
	Handle(t Task)
}

type Starter interface {
	Start()
}

type Finisher interface {
	Finish()
}

// Worker runs tasks from a queue that may be shared with the other workers of a Pool.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup
}

func (w *Worker) Name() string {
	return w.name
}

func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		if f, ok := handler.(Finisher); ok {
			defer f.Finish()
		}
		for {
			task := <-w.receiver
			if _, ok := task.(TaskStop); ok {
				return
			}
			handler.Handle(task)
		}
	}()
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Stop asks one worker reading the queue to exit after the tasks queued before it.
func (w *Worker) Stop() {
	w.sender <- TaskStop{}
}

const defaultWorkerCapacity = 128

func newWorker(name string, ch chan Task, wg *sync.WaitGroup) *Worker {
	return &Worker{
		sender:   ch,
		receiver: ch,
		name:     name,
		wg:       wg,
	}
}

// Pool is a fixed group of workers draining one queue.
type Pool struct {
	workers []*Worker
	sender  chan<- Task
	wg      sync.WaitGroup
}

func NewPool(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	ch := make(chan Task, defaultWorkerCapacity)
	p := &Pool{sender: ch}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, newWorker(name, ch, &p.wg))
	}
	return p
}

func (p *Pool) Size() int {
	return len(p.workers)
}

// Start runs every worker with its own handler, newHandler is called with the worker index.
func (p *Pool) Start(newHandler func(i int) TaskHandler) {
	for i, w := range p.workers {
		w.Start(newHandler(i))
	}
}

func (p *Pool) Sender() chan<- Task {
	return p.sender
}

// Stop lets the workers drain the queued tasks and waits for them to exit.
func (p *Pool) Stop() {
	for range p.workers {
		p.sender <- TaskStop{}
	}
	p.wg.Wait()
}
