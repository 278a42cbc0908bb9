package util

import (
	"html/template"
	"net/http"

	"blog/web"
)

var functions = template.FuncMap{
	// post bodies come from a rich-text editor and are stored as markup
	"safeHTML": func(s string) template.HTML { return template.HTML(s) },
}

func Render(w http.ResponseWriter, name string, data any) {
	t := template.Must(template.New("layout.html").Funcs(functions).ParseFS(
		web.Templates, "templates/layout.html", "templates/"+name,
	))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = t.ExecuteTemplate(w, "base", data)
}
