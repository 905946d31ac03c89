// Package expressions evaluates user-supplied expressions against
// inventory items: expr-lang boolean filters over flattened fields, and
// jq queries over the raw item JSON.
package expressions
