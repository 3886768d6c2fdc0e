// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import "strings"

var decisionMarkers = []string{"decided", "decision", "agreed", "conclusion", "resolved"}

var actionMarkers = []string{"todo", "action item", "must ", "need to", "follow up"}

// ScoreImportance assigns a content-based importance in [0,1]. Decisions and
// action items score above the 0.5 baseline; very short fragments score
// below it.
func ScoreImportance(content string) float64 {
	score := 0.5
	lower := strings.ToLower(content)

	for _, marker := range decisionMarkers {
		if strings.Contains(lower, marker) {
			score += 0.2
			break
		}
	}
	for _, marker := range actionMarkers {
		if strings.Contains(lower, marker) {
			score += 0.15
			break
		}
	}
	if strings.Contains(content, "```") {
		score += 0.1
	}
	if len(strings.TrimSpace(content)) < 40 {
		score -= 0.2
	}
	return clamp01(score)
}
