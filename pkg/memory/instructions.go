package memory

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Op is the kind of memory instruction.
type Op int

const (
	OpAdd Op = iota
	OpModify
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "add"
	}
}

// Instruction is one <memories> block from a model reply.
type Instruction struct {
	Op       Op
	Target   string // id or keyword, for modify and delete
	Keywords []string
	Summary  string
	Content  string
}

var (
	memoriesBlock = regexp.MustCompile(`(?is)<memories>(.*?)</memories>`)
	bracketGroup  = regexp.MustCompile(`\[([^\]]*)\]`)
)

// StripInstructions removes every <memories> block from text.
func StripInstructions(text string) string {
	return strings.TrimSpace(memoriesBlock.ReplaceAllString(text, ""))
}

// ParseInstructions extracts the memory instructions embedded in text and
// returns them with the text that remains once the blocks are removed.
// Blocks with too few fields are skipped.
func ParseInstructions(text string) ([]Instruction, string) {
	var out []Instruction
	for _, m := range memoriesBlock.FindAllStringSubmatch(text, -1) {
		if in, ok := parseBlock(m[1]); ok {
			out = append(out, in)
		}
	}
	return out, StripInstructions(text)
}

func parseBlock(body string) (Instruction, bool) {
	body = strings.TrimSpace(body)
	lower := strings.ToLower(body)

	var in Instruction
	switch {
	case strings.HasPrefix(lower, "modify/"):
		in.Op = OpModify
		body = body[len("modify/"):]
	case strings.HasPrefix(lower, "delete/"):
		in.Op = OpDelete
		body = body[len("delete/"):]
	}

	parts := splitFields(body)
	switch in.Op {
	case OpAdd:
		if len(parts) < 2 {
			return in, false
		}
		in.Keywords = SplitKeywords(trimLabel(parts[0], "keywords:"))
		in.Summary = parts[1]
		in.Content = strings.Join(parts[2:], " ")
		if len(in.Keywords) == 0 {
			return in, false
		}
	case OpModify:
		if len(parts) < 2 {
			return in, false
		}
		in.Target = parts[0]
		in.Summary = parts[1]
		in.Content = strings.Join(parts[2:], "\n")
	case OpDelete:
		if len(parts) < 1 {
			return in, false
		}
		in.Target = parts[0]
	}
	if in.Content == "" {
		in.Content = in.Summary
	}
	return in, true
}

// splitFields understands the three layouts models produce: bracketed
// groups, one field per line, or a single comma separated line.
func splitFields(body string) []string {
	var raw []string
	switch {
	case strings.Contains(body, "["):
		for _, g := range bracketGroup.FindAllStringSubmatch(body, -1) {
			raw = append(raw, g[1])
		}
	case strings.Contains(body, "\n"):
		raw = strings.Split(body, "\n")
	default:
		raw = strings.Split(body, ",")
	}

	var parts []string
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func trimLabel(s, label string) string {
	if strings.HasPrefix(strings.ToLower(s), label) {
		return strings.TrimSpace(s[len(label):])
	}
	return s
}

// Executor applies parsed instructions to a store on behalf of one owner.
type Executor struct {
	Store  Store
	Logger *slog.Logger
}

// Apply runs instructions in order for owner within session and returns how
// many changed the store. A failing or unresolved instruction is logged and
// skipped; the rest still run.
func (e *Executor) Apply(ctx context.Context, owner, session string, instrs []Instruction) int {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	changed := 0
	for _, in := range instrs {
		ok, err := e.apply(ctx, owner, session, in)
		switch {
		case err != nil:
			logger.Warn("memory instruction failed", "op", in.Op, "target", in.Target, "error", err)
		case !ok:
			logger.Info("memory instruction target not found", "op", in.Op, "target", in.Target)
		default:
			changed++
		}
	}
	return changed
}

func (e *Executor) apply(ctx context.Context, owner, session string, in Instruction) (bool, error) {
	if in.Op == OpAdd {
		_, err := e.Store.Save(ctx, Record{
			OwnerID:   owner,
			SessionID: session,
			Keywords:  in.Keywords,
			Summary:   in.Summary,
			Content:   in.Content,
		})
		return err == nil, err
	}

	rec, found, err := e.resolve(ctx, owner, session, in.Target)
	if err != nil || !found {
		return false, err
	}
	if in.Op == OpModify {
		err = e.Store.Update(ctx, owner, rec.ID, Update{Summary: in.Summary, Content: in.Content})
	} else {
		err = e.Store.Delete(ctx, owner, rec.ID)
	}
	if IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// resolve finds the record an instruction refers to: a numeric target is an
// id, anything else is searched like a keyword.
func (e *Executor) resolve(ctx context.Context, owner, session, target string) (Record, bool, error) {
	if id, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64); err == nil {
		rec, err := e.Store.FindByID(ctx, owner, id)
		if IsNotFound(err) {
			return Record{}, false, nil
		}
		return rec, err == nil, err
	}

	recs, err := e.Store.FindByKeywords(ctx, owner, session, SplitKeywords(target), 1)
	if err != nil || len(recs) == 0 {
		return Record{}, false, err
	}
	return recs[0], true, nil
}
