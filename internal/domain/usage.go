package domain

import "time"

type UsageLog struct {
	UserID            string
	JobID             string
	PixelsProcessed   int64
	OperationsApplied int
	OperationsSkipped int
	ComputeTimeMS     int64
	CreatedAt         time.Time
}
