package core

import "context"

// Scheduler will runs the tasks in regular intervals.
type Scheduler interface {
	//  Run starts the scheduler on startup.
	Run(ctx context.Context)
}
