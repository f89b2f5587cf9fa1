// ctorhelp/helpers_param_index.go
// Maps a caret inside an argument list to an argument and a parameter position.
package ctorhelp

// argumentIndex counts the top-level separators strictly before caret.
func argumentIndex(list *ArgumentListContext, caret int) int {
	n := 0
	for _, sep := range list.Separators {
		if sep < caret {
			n++
		}
	}
	return n
}

// argumentCount is the number of arguments the list would have with the
// caret's argument included.
func argumentCount(list *ArgumentListContext, caret int) int {
	if n := len(list.Arguments); n > 0 {
		return n
	}
	if caret > list.OpenParen {
		return 1
	}
	return 0
}

// argumentNameAt returns the name label of the argument holding the caret.
func argumentNameAt(list *ArgumentListContext, caret int) string {
	idx := argumentIndex(list, caret)
	if idx < len(list.Arguments) {
		return list.Arguments[idx].Name
	}
	return ""
}

// currentParameterIndex resolves the parameter the caret is on for sig. A
// named argument wins over its position when sig declares that name.
func currentParameterIndex(list *ArgumentListContext, caret int, sig Signature) int {
	if name := argumentNameAt(list, caret); name != "" {
		for i, p := range sig.Parameters {
			if p.Name == name {
				return i
			}
		}
	}
	return argumentIndex(list, caret)
}
