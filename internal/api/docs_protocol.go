package api

const protocolDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Socket Protocol | Remote Login Gateway</title>
  <style>
    *, *::before, *::after { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
    }
    nav .brand { font-weight: 600; font-size: 15px; color: #e6edf3; }
    nav .sep { color: #484f58; }
    main { max-width: 960px; margin: 0 auto; padding: 24px 16px 64px; }
    h1 { color: #e6edf3; font-size: 26px; }
    h2 { color: #e6edf3; border-bottom: 1px solid #21262d; padding-bottom: 6px; margin-top: 36px; }
    code, pre { font-family: "SFMono-Regular", Consolas, monospace; font-size: 12.5px; }
    code { background: #161b22; padding: 1px 5px; border-radius: 4px; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px 16px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; margin: 12px 0; }
    th, td { border: 1px solid #30363d; padding: 6px 10px; text-align: left; vertical-align: top; }
    th { background: #161b22; color: #e6edf3; }
  </style>
</head>
<body>
<nav>
  <span class="brand">Remote Login Gateway</span>
  <span class="sep">/</span>
  <span>Socket Protocol</span>
  <a href="/docs">← REST API Docs</a>
  <a href="/viewer">Viewer</a>
</nav>
<main>
  <h1>Socket Protocol</h1>
  <p>One websocket per client at <code>GET /ws?user_id=&lt;id&gt;[&amp;token=&lt;resume token&gt;]</code>.
  Every message in both directions is a JSON envelope <code>{"type": "...", "data": {...}}</code>.</p>

  <h2 id="lifecycle">Lifecycle</h2>
  <pre><code>idle ──startLogin──▶ awaiting_login ──first input──▶ login_in_progress
                          │                                 │
                          └────────── login detected ───────┴──▶ logged_in
any state ──closeSession / idle timeout / grace expiry / driver error──▶ closed</code></pre>
  <p>Events that do not fit the current state are answered with <code>error</code> and otherwise ignored.
  <code>closed</code> is terminal; reconnect to start over.</p>

  <h2 id="inbound">Client → server</h2>
  <table>
    <thead><tr><th>type</th><th>data</th><th>accepted in</th></tr></thead>
    <tbody>
      <tr><td><code>getSessionStatus</code></td><td>none</td><td>any</td></tr>
      <tr><td><code>startLogin</code></td><td><code>{canvasWidth?, canvasHeight?}</code></td><td>idle</td></tr>
      <tr><td><code>mouse</code></td><td><code>{type: "click", x, y, canvasWidth?, canvasHeight?}</code> in canvas pixels</td><td>after readyForLogin, before logged_in</td></tr>
      <tr><td><code>keyboard</code></td><td><code>{type: "press"|"type", key}</code>; press takes names like <code>Enter</code>, <code>Tab</code>, <code>Backspace</code>, <code>ArrowLeft</code></td><td>after readyForLogin, before logged_in</td></tr>
      <tr><td><code>scroll</code></td><td><code>{deltaY}</code></td><td>after readyForLogin, before logged_in</td></tr>
      <tr><td><code>closeSession</code></td><td>none</td><td>any</td></tr>
    </tbody>
  </table>

  <h2 id="outbound">Server → client</h2>
  <table>
    <thead><tr><th>type</th><th>data</th></tr></thead>
    <tbody>
      <tr><td><code>connected</code></td><td><code>{sessionId, token, resumed, state, canvas, viewport}</code></td></tr>
      <tr><td><code>sessionStatus</code></td><td><code>{hasSession, isLoggedIn, url, sessionId, state}</code></td></tr>
      <tr><td><code>loginStarted</code></td><td><code>{sessionId}</code></td></tr>
      <tr><td><code>readyForLogin</code></td><td><code>{url}</code></td></tr>
      <tr><td><code>screencast</code></td><td><code>{frame: base64 JPEG, seq, format}</code>; stale frames are dropped, newest wins</td></tr>
      <tr><td><code>inputUpdated</code></td><td><code>{element: {field, name, value, length, masked}}</code>; password values arrive masked</td></tr>
      <tr><td><code>loginSuccess</code></td><td><code>{cookies: {li_at, li_a?}}</code>, sent once; if no socket is attached when login is confirmed, sent to the next socket that resumes with the token</td></tr>
      <tr><td><code>sessionClosed</code></td><td><code>{reason}</code>; the socket closes afterwards</td></tr>
      <tr><td><code>error</code></td><td><code>{message, code, event}</code></td></tr>
    </tbody>
  </table>

  <h2 id="coordinates">Coordinates</h2>
  <p>The browser runs at a fixed viewport (default 1920×1080). Clients send canvas pixels; the server maps
  <code>driver_x = x × viewport_width / canvas_width</code> (same for y). A click at (150, 300) on a
  1280×720 canvas lands at (225, 450).</p>

  <h2 id="handoff">Credential handoff</h2>
  <pre><code>POST /api/v1/credentials/{user_id}
{"li_at": "...", "li_a": "..."}

200 {"status": "stored", "user_id": "..."}</code></pre>

  <h2 id="events">Lifecycle feed</h2>
  <p><code>GET /api/v1/events?feeds=session.transition</code> streams transitions as Server-Sent Events:</p>
  <pre><code>id: 7
event: session.transition
data: {"user_id":"u1","session_id":"…","from":"login_in_progress","to":"logged_in","reason":"auth_cookie_present","at":"…"}</code></pre>
</main>
</body>
</html>`
