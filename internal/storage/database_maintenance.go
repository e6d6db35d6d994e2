/*
 * Copyright 2026 Sen Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/messagehub-project/messagehub/internal/types"
)

// PurgeTerminalOlderThan deletes Delivered and Failed rows created before
// the cutoff. Rows still in flight are never touched.
func (ds *DatabaseStorage) PurgeTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := ds.db.WithContext(ctx).
		Where("status IN ?", []string{string(types.StatusDelivered), string(types.StatusFailed)}).
		Where("created_at < ?", cutoff).
		Delete(&MessageRecord{})

	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge terminal messages: %w", result.Error)
	}

	return result.RowsAffected, nil
}
