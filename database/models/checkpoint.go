// Copyright 2025 Bay LMS Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import "time"

// CheckpointKeyWatermark is the ingest watermark checkpoint key
const CheckpointKeyWatermark = "watermark"

// Checkpoint is a named durable height marker. The ingest watermark is
// advanced only after successful handoff to the projector, so a restart
// replays from the last fully processed block.
type Checkpoint struct {
	ID        uint   `gorm:"primarykey"`
	Key       string `gorm:"size:32;uniqueIndex;not null"`
	Height    uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (Checkpoint) TableName() string {
	return "checkpoint"
}

// RecentBlock remembers the hash observed at a recently ingested height.
// A mismatch between a stored hash and the canonical chain signals a
// reorg. Rows below the retention window are pruned.
type RecentBlock struct {
	ID        uint   `gorm:"primarykey"`
	Height    uint64 `gorm:"uniqueIndex;not null"`
	Hash      string `gorm:"size:80;not null"`
	CreatedAt time.Time
}

func (RecentBlock) TableName() string {
	return "recent_block"
}
