package token

var displayNames = map[Type]string{
	LeftParen:    "'('",
	RightParen:   "')'",
	LeftBrace:    "'{'",
	RightBrace:   "'}'",
	Comma:        "','",
	Dot:          "'.'",
	Minus:        "'-'",
	Plus:         "'+'",
	Semicolon:    "';'",
	Slash:        "'/'",
	Star:         "'*'",
	Bang:         "'!'",
	Equal:        "'='",
	Greater:      "'>'",
	Less:         "'<'",
	BangEqual:    "'!='",
	EqualEqual:   "'=='",
	GreaterEqual: "'>='",
	LessEqual:    "'<='",

	Identifier: "identifier",
	StringLit:  "string literal",
	Number:     "number literal",

	And:    "'and'",
	Class:  "'class'",
	Else:   "'else'",
	False:  "'false'",
	For:    "'for'",
	Fun:    "'fun'",
	If:     "'if'",
	Nil:    "'nil'",
	Or:     "'or'",
	Print:  "'print'",
	Return: "'return'",
	Super:  "'super'",
	This:   "'this'",
	True:   "'true'",
	Var:    "'var'",
	While:  "'while'",

	EOF: "end of input",
}

// Display renders t the way a diagnostic note should name it: quoted
// punctuation/keywords, or a plain description for literal classes.
func (t Type) Display() string {
	if s, ok := displayNames[t]; ok {
		return s
	}
	return string(t)
}
