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

package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/teradata-labs/agentos/pkg/hooks"
	"github.com/teradata-labs/agentos/pkg/types"
)

// PromptMode selects how much enrichment the assembler adds.
type PromptMode string

const (
	PromptModeNone    PromptMode = "none"
	PromptModeMinimal PromptMode = "minimal"
	PromptModeFull    PromptMode = "full"
)

// Enrichment handler priorities in the context_assemble chain.
const (
	priorityTools     = 20
	prioritySkills    = 30
	priorityRuntime   = 40
	priorityBootstrap = 50
)

// minimalBootstrapFiles is the bootstrap subset loaded in minimal mode.
var minimalBootstrapFiles = map[string]bool{"SOUL.md": true, "IDENTITY.md": true}

// ToolLister exposes the tool catalog to the assembler.
type ToolLister interface {
	List() []types.ToolDefinition
}

// AssemblerConfig configures prompt assembly for one agent.
type AssemblerConfig struct {
	Mode      PromptMode
	AgentID   string
	AgentName string
	Model     string
	RepoRoot  string
	// AgentDir is where bootstrap files live.
	AgentDir        string
	BootstrapFiles  []string
	MaxCharsPerFile int
	MaxTotalChars   int
	Skills          []string
}

// Assembler registers the enrichment handlers that grow the system message
// with bracketed sections: available-tools, available-skills, runtime-info,
// and bootstrap file contents. Handlers are clone-on-write; the underlying
// conversation is never touched.
type Assembler struct {
	cfg         AssemblerConfig
	tools       ToolLister
	runtimeInfo string
	// ReadFile is swappable for tests; defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)
}

// NewAssembler creates an assembler. Runtime info is formatted once here.
func NewAssembler(cfg AssemblerConfig, toolList ToolLister) *Assembler {
	a := &Assembler{cfg: cfg, tools: toolList, ReadFile: os.ReadFile}
	zone, _ := time.Now().Zone()
	a.runtimeInfo = fmt.Sprintf("os: %s\nmodel: %s\ntimezone: %s\nrepoRoot: %s\nagentId: %s\nagentName: %s",
		runtime.GOOS, cfg.Model, zone, cfg.RepoRoot, cfg.AgentID, cfg.AgentName)
	return a
}

// Register attaches the handlers selected by the prompt mode and returns
// their disposable registrations.
func (a *Assembler) Register(registry *hooks.Registry) []*hooks.Registration {
	if a.cfg.Mode == PromptModeNone {
		return nil
	}
	regs := []*hooks.Registration{
		registry.Register(hooks.EventContextAssemble, priorityTools, a.toolsHandler),
		registry.Register(hooks.EventContextAssemble, priorityRuntime, a.runtimeHandler),
		registry.Register(hooks.EventContextAssemble, priorityBootstrap, a.bootstrapHandler),
	}
	if a.cfg.Mode == PromptModeFull {
		regs = append(regs,
			registry.Register(hooks.EventContextAssemble, prioritySkills, a.skillsHandler))
	}
	return regs
}

// appendSection clones the message list and grows the system message with
// one bracketed section.
func appendSection(acc any, section, body string) any {
	assembled, ok := acc.(*AssembledContext)
	if !ok || assembled == nil || len(assembled.Messages) == 0 || body == "" {
		return acc
	}
	msgs := append([]types.Message(nil), assembled.Messages...)
	msgs[0].Content = msgs[0].Content + "\n\n[" + section + "]\n" + body
	assembled.Messages = msgs
	return assembled
}

func (a *Assembler) toolsHandler(_ context.Context, acc any) (any, error) {
	defs := a.tools.List()
	if len(defs) == 0 {
		return acc, nil
	}
	var b strings.Builder
	for _, def := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	return appendSection(acc, "available-tools", strings.TrimRight(b.String(), "\n")), nil
}

func (a *Assembler) skillsHandler(_ context.Context, acc any) (any, error) {
	if len(a.cfg.Skills) == 0 {
		return acc, nil
	}
	return appendSection(acc, "available-skills", "- "+strings.Join(a.cfg.Skills, "\n- ")), nil
}

func (a *Assembler) runtimeHandler(_ context.Context, acc any) (any, error) {
	return appendSection(acc, "runtime-info", a.runtimeInfo), nil
}

// bootstrapHandler loads the configured files in list order. Missing files
// are skipped; each file clips at MaxCharsPerFile and the accumulated total
// clips at MaxTotalChars, truncating the last loaded file.
func (a *Assembler) bootstrapHandler(_ context.Context, acc any) (any, error) {
	var sections []string
	total := 0
	for _, name := range a.cfg.BootstrapFiles {
		if a.cfg.Mode == PromptModeMinimal && !minimalBootstrapFiles[name] {
			continue
		}
		data, err := a.ReadFile(filepath.Join(a.cfg.AgentDir, name))
		if err != nil {
			continue
		}
		content := string(data)
		originalLength := len(content)
		truncated := false
		if a.cfg.MaxCharsPerFile > 0 && len(content) > a.cfg.MaxCharsPerFile {
			content = content[:a.cfg.MaxCharsPerFile]
			truncated = true
		}
		if a.cfg.MaxTotalChars > 0 && total+len(content) > a.cfg.MaxTotalChars {
			budget := a.cfg.MaxTotalChars - total
			if budget <= 0 {
				break
			}
			content = content[:budget]
			truncated = true
		}
		total += len(content)
		header := name
		if truncated {
			header = fmt.Sprintf("%s (truncated, originalLength=%d)", name, originalLength)
		}
		sections = append(sections, fmt.Sprintf("--- %s ---\n%s", header, content))
	}
	if len(sections) == 0 {
		return acc, nil
	}
	return appendSection(acc, "bootstrap", strings.Join(sections, "\n")), nil
}
