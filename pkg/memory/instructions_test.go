package memory

import (
	"context"
	"reflect"
	"strconv"
	"testing"

	"github.com/teslashibe/go-voicebot/internal/log"
)

func TestParseInstructions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Instruction
		rest string
	}{
		{
			name: "bracketed add",
			text: "Sure thing! <memories>[ keywords: pizza, food ],[ Likes pizza ],[ Especially margherita ]</memories>",
			want: []Instruction{{Op: OpAdd, Keywords: []string{"pizza", "food"}, Summary: "Likes pizza", Content: "Especially margherita"}},
			rest: "Sure thing!",
		},
		{
			name: "bracketed add with empty content",
			text: "<memories>[ keywords: cat ],[ Has a cat named Tom ],[ ]</memories>ok",
			want: []Instruction{{Op: OpAdd, Keywords: []string{"cat"}, Summary: "Has a cat named Tom", Content: "Has a cat named Tom"}},
			rest: "ok",
		},
		{
			name: "newline add",
			text: "<memories>\nhiking\nGoes hiking on Sundays\n</memories>",
			want: []Instruction{{Op: OpAdd, Keywords: []string{"hiking"}, Summary: "Goes hiking on Sundays", Content: "Goes hiking on Sundays"}},
		},
		{
			name: "comma add",
			text: "<memories>chess, Plays chess weekly, at the club</memories>",
			want: []Instruction{{Op: OpAdd, Keywords: []string{"chess"}, Summary: "Plays chess weekly", Content: "at the club"}},
		},
		{
			name: "modify by id",
			text: "<memories>modify/[ 12 ],[ Now likes sushi ],[ Switched from pizza ]</memories>",
			want: []Instruction{{Op: OpModify, Target: "12", Summary: "Now likes sushi", Content: "Switched from pizza"}},
		},
		{
			name: "delete by keyword",
			text: "<memories>delete/[ pizza ]</memories>",
			want: []Instruction{{Op: OpDelete, Target: "pizza"}},
		},
		{
			name: "delete without brackets",
			text: "<MEMORIES>Delete/7</MEMORIES>",
			want: []Instruction{{Op: OpDelete, Target: "7"}},
		},
		{
			name: "too few fields skipped",
			text: "Hi <memories>[ only keywords ]</memories> there <memories>modify/[ 3 ]</memories>",
			rest: "Hi  there",
		},
		{
			name: "several blocks",
			text: "<memories>[ a ],[ A ]</memories>x<memories>delete/[ 2 ]</memories>",
			want: []Instruction{
				{Op: OpAdd, Keywords: []string{"a"}, Summary: "A", Content: "A"},
				{Op: OpDelete, Target: "2"},
			},
			rest: "x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rest := ParseInstructions(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("instructions = %+v, want %+v", got, tt.want)
			}
			if rest != tt.rest {
				t.Errorf("rest = %q, want %q", rest, tt.rest)
			}
		})
	}
}

func TestMatchKeywords(t *testing.T) {
	kw := []string{"pizza", "guitar", "new_york"}
	got := MatchKeywords("I had PIZZA, then played guitar. Pizza again!", kw)
	want := []string{"pizza", "guitar"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MatchKeywords = %v, want %v", got, want)
	}
	if got := MatchKeywords("guitars and pizzas", kw); len(got) != 0 {
		t.Errorf("partial words matched: %v", got)
	}
	if got := MatchKeywords("anything", nil); got != nil {
		t.Errorf("no keywords should match nothing, got %v", got)
	}
}

func TestExecutorApply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := &Executor{Store: s, Logger: log.Nop()}

	oldID, err := s.Save(ctx, Record{OwnerID: "u1", SessionID: "old", Keywords: []string{"pizza"}, Summary: "Likes pizza"})
	if err != nil {
		t.Fatal(err)
	}
	goneID, err := s.Save(ctx, Record{OwnerID: "u1", SessionID: "old", Keywords: []string{"tea"}, Summary: "Drinks tea"})
	if err != nil {
		t.Fatal(err)
	}

	instrs, _ := ParseInstructions(`
		<memories>[ keywords: cats ],[ Has two cats ]</memories>
		<memories>modify/[ pizza ],[ Prefers sushi now ]</memories>
		<memories>delete/[ ` + itoa(goneID) + ` ]</memories>
		<memories>delete/[ 99999 ]</memories>
		<memories>modify/[ unknownword ],[ nothing ]</memories>`)
	if len(instrs) != 5 {
		t.Fatalf("parsed %d instructions, want 5", len(instrs))
	}

	if changed := exec.Apply(ctx, "u1", "now", instrs); changed != 3 {
		t.Errorf("changed = %d, want 3", changed)
	}

	rec, err := s.FindByID(ctx, "u1", oldID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Summary != "Prefers sushi now" {
		t.Errorf("modified summary = %q", rec.Summary)
	}
	if _, err := s.FindByID(ctx, "u1", goneID); !IsNotFound(err) {
		t.Errorf("deleted record still present: %v", err)
	}
	if kws := s.Keywords(); !reflect.DeepEqual(kws, []string{"cats", "pizza"}) {
		t.Errorf("keywords = %v", kws)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
