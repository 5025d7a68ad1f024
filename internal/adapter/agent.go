package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tableiq/research-cli/internal/cost"
	"github.com/tableiq/research-cli/internal/jsonx"
	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/pkg/anthropic"
	"github.com/tableiq/research-cli/pkg/browser"
)

// defaultAgentMaxSteps bounds the browse loop; each step is one model
// round trip plus one browser action.
const defaultAgentMaxSteps = 12

const agentSystemPrompt = `You drive a web browser to extract restaurant data. Each turn you see the
current page's visible text and its clickable elements. Reply with only a
JSON object, one of:

  {"action":"click","selector":"<selector from the list>"}
  {"action":"navigate","url":"<absolute url>"}
  {"action":"scroll"}
  {"action":"done","data":{...}}

Finish with "done" as soon as you have what was asked for, or when the
site clearly does not publish it. The "data" object may contain:
  "restaurant_name", "address", "phone", "email", "hours": strings
  "menu_items": array of {"name","price","description","category"}
  "social_links": array of profile URLs

Only include values you actually saw on the pages. Never invent data.`

// AgentAdapter is the last-resort extractor: a model-driven browser
// session for sites whose content resists crawling and vision (tab-built
// menus, PDF-only menus behind viewers, aggressive client routing).
type AgentAdapter struct {
	llm      anthropic.Client
	browser  browser.Client
	model    string
	maxSteps int
	calc     *cost.Calculator
}

// NewAgentAdapter creates the browser agent adapter. maxSteps <= 0 uses
// the default.
func NewAgentAdapter(llm anthropic.Client, browserClient browser.Client, agentModel string, maxSteps int, calc *cost.Calculator) *AgentAdapter {
	if maxSteps <= 0 {
		maxSteps = defaultAgentMaxSteps
	}
	return &AgentAdapter{llm: llm, browser: browserClient, model: agentModel, maxSteps: maxSteps, calc: calc}
}

func (a *AgentAdapter) Name() string       { return "agent" }
func (a *AgentAdapter) Phase() model.Phase { return model.PhaseAgent }

func (a *AgentAdapter) Fields() []model.FieldCapability {
	return []model.FieldCapability{
		{Field: model.FieldRestaurantName, BaseConfidence: 0.80},
		{Field: model.FieldAddress, BaseConfidence: 0.80},
		{Field: model.FieldPhone, BaseConfidence: 0.80},
		{Field: model.FieldEmail, BaseConfidence: 0.80},
		{Field: model.FieldHours, BaseConfidence: 0.75},
		{Field: model.FieldMenu, BaseConfidence: 0.75},
		{Field: model.FieldSocial, BaseConfidence: 0.75},
	}
}

func (a *AgentAdapter) CostEstimate() float64 {
	return a.calc.AgentSteps(a.maxSteps) + a.calc.LLM(a.model, a.maxSteps*3000, a.maxSteps*150)
}

type agentCommand struct {
	Action   string     `json:"action"`
	Selector string     `json:"selector"`
	URL      string     `json:"url"`
	Data     *agentData `json:"data"`
}

type agentData struct {
	RestaurantName string           `json:"restaurant_name"`
	Address        string           `json:"address"`
	Phone          string           `json:"phone"`
	Email          string           `json:"email"`
	Hours          string           `json:"hours"`
	MenuItems      []visionMenuItem `json:"menu_items"`
	SocialLinks    []string         `json:"social_links"`
}

func (a *AgentAdapter) Extract(ctx context.Context, target model.Target, rec *model.RestaurantRecord) (*model.PartialRecord, float64, error) {
	var spent float64

	sess, err := a.browser.StartSession(ctx, target.URL)
	if err != nil {
		return nil, spent, err
	}
	defer func() {
		if cerr := a.browser.CloseSession(context.WithoutCancel(ctx), sess.ID); cerr != nil {
			zap.L().Warn("agent session close failed", zap.String("session", sess.ID), zap.Error(cerr))
		}
	}()

	goal := a.describeGoal(rec)
	messages := []anthropic.Message{
		{Role: "user", Content: goal + "\n\n" + describePage(&sess.State)},
	}

	partial := &model.PartialRecord{Source: a.Name()}
	steps := 0
	for steps < a.maxSteps {
		steps++

		resp, err := a.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.model,
			MaxTokens: 1024,
			System:    anthropic.CachedSystemBlocks(agentSystemPrompt),
			Messages:  messages,
		})
		if err != nil {
			return nil, spent + a.calc.AgentSteps(steps), err
		}
		spent += a.calc.LLM(a.model, int(resp.Usage.BilledInputTokens()), int(resp.Usage.OutputTokens))

		reply := resp.Text()
		cmd, _, err := jsonx.Unmarshal[agentCommand](reply)
		if err != nil {
			zap.L().Warn("agent reply contained no JSON, stopping session",
				zap.String("url", target.URL),
				zap.Int("step", steps))
			break
		}

		if cmd.Action == "done" {
			if cmd.Data != nil {
				a.apply(cmd.Data, partial)
			}
			break
		}

		state, err := a.perform(ctx, sess.ID, cmd)
		messages = append(messages, anthropic.Message{Role: "assistant", Content: reply})
		if err != nil {
			messages = append(messages, anthropic.Message{
				Role:    "user",
				Content: fmt.Sprintf("That action failed: %v. Pick another action or finish with done.", err),
			})
			continue
		}
		messages = append(messages, anthropic.Message{Role: "user", Content: describePage(state)})
	}

	spent += a.calc.AgentSteps(steps)
	zap.L().Info("agent session finished",
		zap.String("url", target.URL),
		zap.Int("steps", steps),
		zap.Float64("cost_usd", spent))
	return partial, spent, nil
}

func (a *AgentAdapter) perform(ctx context.Context, sessionID string, cmd agentCommand) (*browser.PageState, error) {
	action := browser.Action{}
	switch cmd.Action {
	case "click":
		action = browser.Action{Type: browser.ActionClick, Selector: cmd.Selector}
	case "navigate":
		action = browser.Action{Type: browser.ActionNavigate, URL: cmd.URL}
	case "scroll":
		action = browser.Action{Type: browser.ActionScroll}
	default:
		return nil, eris.Errorf("unknown action %q", cmd.Action)
	}
	return a.browser.Perform(ctx, sessionID, action)
}

// describeGoal tells the model which fields are still missing so it does
// not burn steps re-reading values earlier phases already found.
func (a *AgentAdapter) describeGoal(rec *model.RestaurantRecord) string {
	var missing []string
	if rec.Name == "" {
		missing = append(missing, "restaurant name")
	}
	if rec.Address.Raw == "" {
		missing = append(missing, "street address")
	}
	if rec.Phone.Raw == "" {
		missing = append(missing, "phone number")
	}
	if rec.Email == "" {
		missing = append(missing, "email")
	}
	if rec.Hours == "" {
		missing = append(missing, "opening hours")
	}
	if len(rec.MenuItems) == 0 {
		missing = append(missing, "menu items with prices")
	}
	if len(missing) == 0 {
		missing = append(missing, "any contact or menu details you can confirm")
	}
	return "Find: " + strings.Join(missing, ", ") + "."
}

// describePage renders a page state for the model: visible text first,
// truncated, then the clickable elements it may act on.
func describePage(state *browser.PageState) string {
	text := state.Text
	if len(text) > 6000 {
		text = text[:6000] + "\n[truncated]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n\nPage text:\n%s\n\nClickable elements:\n", state.URL, text)
	if len(state.Links) == 0 {
		b.WriteString("(none)\n")
	}
	for _, l := range state.Links {
		fmt.Fprintf(&b, "  %s: %s\n", l.Selector, l.Label)
	}
	return b.String()
}

func (a *AgentAdapter) apply(data *agentData, partial *model.PartialRecord) {
	partial.Name = model.Str(data.RestaurantName, BaseConfidence(a, model.FieldRestaurantName))
	partial.AddressRaw = model.Str(data.Address, BaseConfidence(a, model.FieldAddress))
	partial.Phone = model.Str(data.Phone, BaseConfidence(a, model.FieldPhone))
	partial.Email = model.Str(data.Email, BaseConfidence(a, model.FieldEmail))
	partial.Hours = model.Str(data.Hours, BaseConfidence(a, model.FieldHours))

	itemConf := BaseConfidence(a, model.FieldMenu)
	for _, item := range data.MenuItems {
		if strings.TrimSpace(item.Name) == "" {
			continue
		}
		partial.MenuItems = append(partial.MenuItems, model.MenuItem{
			Name:        item.Name,
			Price:       item.Price,
			Description: item.Description,
			Category:    strings.ToLower(item.Category),
			Confidence:  itemConf,
		})
	}
	for _, link := range data.SocialLinks {
		if strings.HasPrefix(link, "http") {
			partial.SocialLinks = append(partial.SocialLinks, link)
		}
	}
}
