package llm

import (
	"reflect"
	"testing"
)

func TestParseList(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want ListResult
	}{
		{
			name: "plain single quotes",
			in:   `['query 1', 'query 2']`,
			want: ListResult{Items: []string{"query 1", "query 2"}},
		},
		{
			name: "double quotes and spacing",
			in:   ` [ "a" , "b" ] `,
			want: ListResult{Items: []string{"a", "b"}},
		},
		{
			name: "done sentinel",
			in:   "<done>",
			want: ListResult{Done: true},
		},
		{
			name: "done inside fence",
			in:   "```\n<done>\n```",
			want: ListResult{Done: true},
		},
		{
			name: "python fence",
			in:   "```python\n['x', 'y']\n```",
			want: ListResult{Items: []string{"x", "y"}},
		},
		{
			name: "escaped quote",
			in:   `['it\'s fine']`,
			want: ListResult{Items: []string{"it's fine"}},
		},
		{
			name: "empty list",
			in:   `[]`,
			want: ListResult{Items: []string{}},
		},
		{
			name: "prose fails to empty",
			in:   "Here are some queries you could try.",
			want: ListResult{},
		},
		{
			name: "non-list literal fails to empty",
			in:   `{'a': 1}`,
			want: ListResult{},
		},
		{
			name: "list of non-strings fails to empty",
			in:   `[1, 2, 3]`,
			want: ListResult{},
		},
		{
			name: "unterminated string fails to empty",
			in:   `['open`,
			want: ListResult{},
		},
		{
			name: "empty input",
			in:   "",
			want: ListResult{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseList(tc.in)
			if got.Done != tc.want.Done {
				t.Fatalf("done mismatch: got %v want %v", got.Done, tc.want.Done)
			}
			if len(got.Items) != len(tc.want.Items) {
				t.Fatalf("items mismatch: got %v want %v", got.Items, tc.want.Items)
			}
			if len(tc.want.Items) > 0 && !reflect.DeepEqual(got.Items, tc.want.Items) {
				t.Fatalf("items mismatch: got %v want %v", got.Items, tc.want.Items)
			}
		})
	}
}
