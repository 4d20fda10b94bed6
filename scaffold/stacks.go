package scaffold

import "strings"

// BaseStylesheet is the neutral stylesheet every stack starts from.
const BaseStylesheet = `* { box-sizing: border-box; }
body { margin: 0; font-family: system-ui, -apple-system, sans-serif; line-height: 1.6; color: #1f2933; background: #f7f7f8; }
.page { max-width: 960px; margin: 0 auto; padding: 3rem 1.5rem; }
.hero { padding: 2rem 0; }
.hero h1 { font-size: 2.5rem; margin: 0 0 .5rem; }
.card { background: #fff; border-radius: 12px; padding: 1.5rem; margin: 1rem 0; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
`

// pageBody renders the shared page markup. classAttr is "class" or "className".
func pageBody(classAttr, indent string) string {
	lines := []string{
		`<main ` + classAttr + `="page {{.Theme}}">`,
		`  <header ` + classAttr + `="hero">`,
		`    <h1>{{text .Title}}</h1>`,
		`    <p>{{text .Tagline}}</p>`,
		`  </header>`,
		`{{- range .Sections}}`,
		`  <section ` + classAttr + `="card">`,
		`    <h2>{{text .Heading}}</h2>`,
		`    <p>{{text .Body}}</p>`,
		`  </section>`,
		`{{- end}}`,
		`</main>`,
	}
	for i, l := range lines {
		if !strings.HasPrefix(l, "{{-") {
			lines[i] = indent + l
		}
	}
	return strings.Join(lines, "\n")
}

func htmlDocument(stylesheetHref string) string {
	return `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>{{text .Title}}</title>
  <link rel="stylesheet" href="` + stylesheetHref + `" />
</head>
<body>
` + pageBody("class", "  ") + `
</body>
</html>
`
}

func nodeDockerfile(devCommand string) string {
	return `FROM node:20-alpine
WORKDIR /app
COPY package.json ./
RUN npm install
COPY . .
ENV PORT=3000
EXPOSE 3000
CMD ` + devCommand + `
`
}

const nodeDockerignore = "node_modules\n.next\ndist\n.svelte-kit\n"

func builtinDefinitions() []Definition {
	return []Definition{
		{
			Stack:        StackNextJS,
			Name:         "Next.js 14 (App Router, TypeScript)",
			InternalPort: "3000",
			Config: map[string]string{
				"package.json": `{
  "name": "r3kt-app",
  "private": true,
  "scripts": { "dev": "next dev", "build": "next build", "start": "next start" },
  "dependencies": { "next": "14.2.5", "react": "18.3.1", "react-dom": "18.3.1" },
  "devDependencies": { "typescript": "5.5.4", "@types/react": "18.3.3", "@types/node": "20.14.12" }
}
`,
				"next.config.js": "/** @type {import('next').NextConfig} */\nmodule.exports = { reactStrictMode: true };\n",
				"tsconfig.json": `{
  "compilerOptions": {
    "target": "es2017", "lib": ["dom", "dom.iterable", "esnext"], "strict": true, "noEmit": true,
    "module": "esnext", "moduleResolution": "bundler", "jsx": "preserve", "esModuleInterop": true,
    "skipLibCheck": true, "resolveJsonModule": true, "isolatedModules": true, "incremental": true,
    "plugins": [{ "name": "next" }]
  },
  "include": ["next-env.d.ts", "**/*.ts", "**/*.tsx"],
  "exclude": ["node_modules"]
}
`,
				"Dockerfile":    nodeDockerfile(`["npm", "run", "dev", "--", "-H", "0.0.0.0", "-p", "3000"]`),
				".dockerignore": nodeDockerignore,
			},
			Base: map[string]string{
				"app/layout.tsx": `import "./globals.css";

export const metadata = { title: "r3kt preview" };

export default function RootLayout({ children }: { children: React.ReactNode }) {
  return (
    <html lang="en">
      <body>{children}</body>
    </html>
  );
}
`,
			},
			PagePath:       "app/page.tsx",
			StylesheetPath: "app/globals.css",
			PageTemplate:   "export default function Home() {\n  return (\n" + pageBody("className", "    ") + "\n  );\n}\n",
			Guidance: []string{
				"Use the App Router under app/ with TypeScript React components.",
				"Do not add dependencies beyond next, react and react-dom.",
			},
		},
		{
			Stack:        StackReactVite,
			Name:         "React 18 with Vite (TypeScript)",
			InternalPort: "3000",
			Config: map[string]string{
				"package.json": `{
  "name": "r3kt-app",
  "private": true,
  "type": "module",
  "scripts": { "dev": "vite", "build": "vite build", "preview": "vite preview" },
  "dependencies": { "react": "18.3.1", "react-dom": "18.3.1" },
  "devDependencies": { "@vitejs/plugin-react": "4.3.1", "typescript": "5.5.4", "vite": "5.3.5", "@types/react": "18.3.3", "@types/react-dom": "18.3.0" }
}
`,
				"vite.config.ts": "import { defineConfig } from \"vite\";\nimport react from \"@vitejs/plugin-react\";\n\nexport default defineConfig({ plugins: [react()] });\n",
				"tsconfig.json": `{
  "compilerOptions": {
    "target": "ES2020", "lib": ["ES2020", "DOM", "DOM.Iterable"], "module": "ESNext",
    "moduleResolution": "bundler", "jsx": "react-jsx", "strict": true, "noEmit": true, "skipLibCheck": true
  },
  "include": ["src"]
}
`,
				"index.html": `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>r3kt preview</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.tsx"></script>
  </body>
</html>
`,
				"Dockerfile":    nodeDockerfile(`["npm", "run", "dev", "--", "--host", "0.0.0.0", "--port", "3000"]`),
				".dockerignore": nodeDockerignore,
			},
			Base: map[string]string{
				"src/main.tsx": `import React from "react";
import ReactDOM from "react-dom/client";
import App from "./App";
import "./index.css";

ReactDOM.createRoot(document.getElementById("root")!).render(
  <React.StrictMode>
    <App />
  </React.StrictMode>
);
`,
			},
			PagePath:       "src/App.tsx",
			StylesheetPath: "src/index.css",
			PageTemplate:   "function App() {\n  return (\n" + pageBody("className", "    ") + "\n  );\n}\n\nexport default App;\n",
			Guidance: []string{
				"Keep the entry point at src/main.tsx rendering the default export of src/App.tsx.",
			},
		},
		{
			Stack:        StackSvelteKit,
			Name:         "SvelteKit",
			InternalPort: "3000",
			Config: map[string]string{
				"package.json": `{
  "name": "r3kt-app",
  "private": true,
  "type": "module",
  "scripts": { "dev": "vite dev", "build": "vite build", "preview": "vite preview" },
  "devDependencies": { "@sveltejs/adapter-auto": "3.2.2", "@sveltejs/kit": "2.5.18", "@sveltejs/vite-plugin-svelte": "3.1.1", "svelte": "4.2.18", "vite": "5.3.5" }
}
`,
				"svelte.config.js": "import adapter from \"@sveltejs/adapter-auto\";\n\nexport default { kit: { adapter: adapter() } };\n",
				"vite.config.ts":   "import { sveltekit } from \"@sveltejs/kit/vite\";\nimport { defineConfig } from \"vite\";\n\nexport default defineConfig({ plugins: [sveltekit()] });\n",
				"Dockerfile":       nodeDockerfile(`["npm", "run", "dev", "--", "--host", "0.0.0.0", "--port", "3000"]`),
				".dockerignore":    nodeDockerignore,
			},
			Base: map[string]string{
				"src/app.html": `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    %sveltekit.head%
  </head>
  <body>
    <div style="display: contents">%sveltekit.body%</div>
  </body>
</html>
`,
				"src/routes/+layout.svelte": "<script>\n  import \"../app.css\";\n</script>\n\n<slot />\n",
			},
			PagePath:       "src/routes/+page.svelte",
			StylesheetPath: "src/app.css",
			PageTemplate:   "<svelte:head>\n  <title>{{text .Title}}</title>\n</svelte:head>\n\n" + pageBody("class", "") + "\n",
			Guidance: []string{
				"Put routes under src/routes using +page.svelte files.",
			},
		},
		{
			Stack:        StackVueVite,
			Name:         "Vue 3 with Vite",
			InternalPort: "3000",
			Config: map[string]string{
				"package.json": `{
  "name": "r3kt-app",
  "private": true,
  "type": "module",
  "scripts": { "dev": "vite", "build": "vite build", "preview": "vite preview" },
  "dependencies": { "vue": "3.4.34" },
  "devDependencies": { "@vitejs/plugin-vue": "5.1.1", "typescript": "5.5.4", "vite": "5.3.5" }
}
`,
				"vite.config.ts": "import { defineConfig } from \"vite\";\nimport vue from \"@vitejs/plugin-vue\";\n\nexport default defineConfig({ plugins: [vue()] });\n",
				"index.html": `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>r3kt preview</title>
  </head>
  <body>
    <div id="app"></div>
    <script type="module" src="/src/main.ts"></script>
  </body>
</html>
`,
				"Dockerfile":    nodeDockerfile(`["npm", "run", "dev", "--", "--host", "0.0.0.0", "--port", "3000"]`),
				".dockerignore": nodeDockerignore,
			},
			Base: map[string]string{
				"src/main.ts": "import { createApp } from \"vue\";\nimport App from \"./App.vue\";\nimport \"./style.css\";\n\ncreateApp(App).mount(\"#app\");\n",
			},
			PagePath:       "src/App.vue",
			StylesheetPath: "src/style.css",
			PageTemplate:   "<template>\n" + pageBody("class", "  ") + "\n</template>\n",
			Guidance: []string{
				"Use single-file components with the Composition API.",
			},
		},
		{
			Stack:        StackPythonFlask,
			Name:         "Python Flask",
			InternalPort: "8000",
			Config: map[string]string{
				"requirements.txt": "flask==3.0.3\n",
				"Dockerfile": `FROM python:3.12-slim
WORKDIR /app
COPY requirements.txt ./
RUN pip install --no-cache-dir -r requirements.txt
COPY . .
ENV PORT=8000
EXPOSE 8000
CMD ["python", "app.py"]
`,
			},
			Base: map[string]string{
				"app.py": `import os

from flask import Flask, render_template

app = Flask(__name__)


@app.route("/")
def index():
    return render_template("index.html")


if __name__ == "__main__":
    app.run(host="0.0.0.0", port=int(os.environ.get("PORT", "8000")))
`,
			},
			PagePath:       "templates/index.html",
			StylesheetPath: "static/style.css",
			PageTemplate:   htmlDocument("/static/style.css"),
			Guidance: []string{
				"Serve pages from app.py with Flask, templates under templates/ and assets under static/.",
				"app.py must listen on 0.0.0.0 and the port in the PORT environment variable.",
			},
		},
		{
			Stack:        StackStatic,
			Name:         "static HTML/CSS/JavaScript site",
			InternalPort: "80",
			Config: map[string]string{
				"Dockerfile": "FROM nginx:alpine\nCOPY . /usr/share/nginx/html\nEXPOSE 80\n",
			},
			PagePath:       "index.html",
			StylesheetPath: "styles.css",
			PageTemplate:   htmlDocument("styles.css"),
			Guidance: []string{
				"Use plain HTML, CSS and JavaScript without a build step.",
			},
		},
	}
}
