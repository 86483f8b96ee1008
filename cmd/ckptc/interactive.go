package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-aot/compiler"
	"github.com/wippyai/wasm-aot/runtime"
	"github.com/wippyai/wasm-aot/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	err      error
	cfg      config
	instance *runtime.Instance
	module   *runtime.Module
	stats    string
	result   string
	funcs    []funcInfo
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type funcInfo struct {
	name  string
	ftype *wasm.FuncType
	ckpts int
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(cfg config) *interactiveModel {
	return &interactiveModel{
		cfg:   cfg,
		state: stateSelectFunc,
	}
}

type loadedMsg struct {
	err   error
	mod   *runtime.Module
	funcs []funcInfo
	stats string
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *interactiveModel) loadModule() tea.Msg {
	ctx := context.Background()

	data, err := os.ReadFile(m.cfg.input)
	if err != nil {
		return loadedMsg{err: err}
	}
	rt, err := runtime.New(m.cfg.opts)
	if err != nil {
		return loadedMsg{err: err}
	}
	mod, err := rt.Load(ctx, data)
	if err != nil {
		return loadedMsg{err: err}
	}

	res := mod.Result()
	var funcs []funcInfo
	for _, e := range mod.Exports() {
		if e.Kind != wasm.KindFunc {
			continue
		}
		fi := funcInfo{name: e.Name, ftype: e.Type}
		if s, ok := res.Func(e.Index); ok {
			fi.ckpts = s.Checkpoints
		}
		funcs = append(funcs, fi)
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].name < funcs[j].name })

	return loadedMsg{funcs: funcs, mod: mod, stats: summary(res)}
}

func summary(res *compiler.Result) string {
	var ckpts, loops, frame int
	for _, f := range res.Funcs {
		ckpts += f.Checkpoints
		loops += f.LoopCheckpoints
		frame = max(frame, f.FrameSize)
	}
	return fmt.Sprintf("%s, %d functions, %d checkpoints (%d loop), largest frame %d bytes",
		res.Mode, len(res.Funcs), ckpts, loops, frame)
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state != stateInputArgs || msg.String() == "ctrl+c" {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		m.module = msg.mod
		m.stats = msg.stats

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.ftype.Params))
	for i, p := range f.ftype.Params {
		ti := textinput.New()
		ti.Placeholder = p.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

// callFunction runs the selected export as a call session, suspending at
// every -pause checkpoint, and cross-checks it with wazero when -verify
// is set.
func (m *interactiveModel) callFunction() tea.Msg {
	ctx := context.Background()

	if m.instance == nil {
		if m.module == nil {
			return callResultMsg{err: fmt.Errorf("module not loaded")}
		}
		inst, err := m.module.Instantiate(ctx)
		if err != nil {
			return callResultMsg{err: err}
		}
		m.instance = inst
	}

	f := m.funcs[m.selected]
	raw := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		raw[i] = strings.TrimSpace(input.Value())
	}
	args, err := parseArgs(f.ftype, raw)
	if err != nil {
		return callResultMsg{err: err}
	}

	cs, err := m.instance.StartCall(ctx, f.name, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	results, err := cs.Run(ctx, runtime.PauseEvery(m.cfg.pause))
	if err != nil {
		return callResultMsg{err: err}
	}

	out := formatResults(f.ftype, results)
	if cs.Pauses() > 0 {
		out += fmt.Sprintf("\nsuspended %d times, last at offset %d", cs.Pauses(), cs.Checkpoint())
	}
	if m.cfg.verify {
		want, err := m.module.Reference(ctx, f.name, args...)
		switch {
		case err != nil:
			out += "\nreference run failed: " + err.Error()
		case sameResults(f.ftype, results, want):
			out += "\nmatches wazero"
		default:
			return callResultMsg{err: fmt.Errorf("%s differs from wazero's %s", out, formatResults(f.ftype, want))}
		}
	}
	return callResultMsg{result: out}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.module == nil {
		return "Compiling module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Checkpoint Compiler"))
	b.WriteString(" ")
	b.WriteString(m.cfg.input)
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.stats))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("The module exports no functions.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + m.formatFunc(f)))
			} else {
				b.WriteString("  " + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.ftype.Params[i].String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatFunc(f funcInfo) string {
	params := make([]string, len(f.ftype.Params))
	for i, p := range f.ftype.Params {
		params[i] = typeStyle.Render(p.String())
	}
	result := ""
	if len(f.ftype.Results) > 0 {
		rs := make([]string, len(f.ftype.Results))
		for i, r := range f.ftype.Results {
			rs[i] = r.String()
		}
		result = " -> " + typeStyle.Render(strings.Join(rs, ", "))
	}
	return funcStyle.Render(f.name) + "(" + strings.Join(params, ", ") + ")" + result +
		helpStyle.Render(fmt.Sprintf("  %d ckpt", f.ckpts))
}

func runInteractive(cfg config) error {
	p := tea.NewProgram(newInteractiveModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
