package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"agentdesk/internal/domain"
)

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // command name without "/"
	Args []string // arguments after the command
	Raw  string   // original full text
}

// CommandResult holds the response for a handled command.
type CommandResult struct {
	Response string // text response to send back
	Handled  bool   // true if the command was handled (don't send to the agent)
}

// startTime records when the process started for /uptime.
var startTime = time.Now()

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}

	// Telegram appends the bot name in groups: /agent@desk_bot luna
	name, _, _ := strings.Cut(strings.TrimPrefix(parts[0], "/"), "@")
	name = strings.ToLower(name)

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &ChatCommand{
		Name: name,
		Args: args,
		Raw:  text,
	}
}

// HandleCommand processes a chat command and returns a result.
// If the command is not recognized, returns Handled=false so the message
// is forwarded to the agent as a normal message.
func (l *Loop) HandleCommand(ctx context.Context, cmd *ChatCommand, msg domain.InboundMessage) CommandResult {
	key := SessionKey(msg)

	switch cmd.Name {
	case "help", "start":
		return CommandResult{Response: helpText(), Handled: true}

	case "agents":
		return CommandResult{Response: l.agentsText(key), Handled: true}

	case "agent":
		if len(cmd.Args) == 0 {
			return CommandResult{Response: fmt.Sprintf("You are talking to %s. Use /agents to list the others.", l.displayName(l.currentAgent(key))), Handled: true}
		}
		h, err := l.svc.Handler(cmd.Args[0])
		if err != nil {
			return CommandResult{Response: fmt.Sprintf("Unknown agent %q. Use /agents to list them.", cmd.Args[0]), Handled: true}
		}
		l.sessions.SetAgent(key, h.Profile().Name)
		return CommandResult{Response: fmt.Sprintf("Switched to %s.", l.displayName(h.Profile().Name)), Handled: true}

	case "new", "clear":
		agent := l.currentAgent(key)
		if err := l.svc.NewConversation(ctx, agent, tenantOf(msg), msg.SenderID); err != nil {
			l.logger.Warn("failed to start new conversation", "session", key, "err", err)
			return CommandResult{Response: "Could not reset the conversation, please try again.", Handled: true}
		}
		return CommandResult{Response: "Conversation cleared. Starting fresh.", Handled: true}

	case "status":
		return CommandResult{Response: l.statusText(key), Handled: true}

	case "uptime":
		uptime := time.Since(startTime).Round(time.Second)
		return CommandResult{Response: fmt.Sprintf("Uptime: %s", uptime), Handled: true}

	case "version":
		return CommandResult{Response: fmt.Sprintf("agentdesk v%s (%s/%s, Go %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version()), Handled: true}

	default:
		return CommandResult{Handled: false}
	}
}

// version is set by the build system. Default fallback.
var version = "0.1.0"

// SetVersion sets the version string used by commands.
func SetVersion(v string) {
	version = v
}

// Version returns the version string.
func Version() string { return version }

func helpText() string {
	return `**agentdesk commands**

/agents — List the available agents
/agent <name> — Talk to another agent
/new — Start a new conversation with the current agent
/clear — Same as /new
/status — Show the current agent and uptime
/uptime — Show uptime
/version — Show version info`
}

func (l *Loop) currentAgent(key string) string {
	if a := l.sessions.Agent(key); a != "" {
		return a
	}
	return l.svc.DefaultAgent()
}

func (l *Loop) displayName(agent string) string {
	if h, err := l.svc.Handler(agent); err == nil && h.Profile().DisplayName != "" {
		return h.Profile().DisplayName
	}
	return agent
}

func (l *Loop) agentsText(key string) string {
	current := l.currentAgent(key)
	var sb strings.Builder
	sb.WriteString("**Available agents**\n\n")
	for _, p := range l.svc.Agents() {
		mark := ""
		if p.Name == current {
			mark = " (current)"
		}
		fmt.Fprintf(&sb, "• %s%s — %s\n", p.Name, mark, p.Description)
	}
	return sb.String()
}

func (l *Loop) statusText(key string) string {
	uptime := time.Since(startTime).Round(time.Second)
	var sb strings.Builder
	fmt.Fprintf(&sb, "**agentdesk v%s**\n\n", version)
	fmt.Fprintf(&sb, "Agent: %s\n", l.displayName(l.currentAgent(key)))
	fmt.Fprintf(&sb, "Agents loaded: %d\n", len(l.svc.Agents()))
	fmt.Fprintf(&sb, "Uptime: %s\n", uptime)
	fmt.Fprintf(&sb, "Runtime: %s/%s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	return sb.String()
}
