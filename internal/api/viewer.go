package api

// viewerHTML is a minimal browser client for the socket protocol. The
// overlay is drawn only from inputUpdated events.
const viewerHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Remote Login Viewer</title>
  <style>
    body { margin: 0; background: #0d1117; color: #c9d1d9; font-family: -apple-system, "Segoe UI", sans-serif; font-size: 13px; }
    header { display: flex; gap: 12px; align-items: center; padding: 10px 16px; background: #161b22; border-bottom: 1px solid #30363d; }
    input, button { background: #0d1117; color: #c9d1d9; border: 1px solid #30363d; border-radius: 6px; padding: 5px 10px; }
    button { cursor: pointer; }
    #stage { position: relative; width: 1280px; margin: 16px auto; }
    canvas { display: block; background: #000; outline: none; }
    #overlay { position: absolute; left: 12px; bottom: 12px; background: rgba(22,27,34,.9); border: 1px solid #30363d; border-radius: 6px; padding: 6px 10px; display: none; }
    #state { color: #58a6ff; }
    #log { max-width: 1280px; margin: 0 auto; color: #8b949e; white-space: pre-wrap; }
  </style>
</head>
<body>
<header>
  <label>user_id <input id="user" size="16" /></label>
  <button id="connect">Connect</button>
  <button id="start" disabled>Start login</button>
  <button id="close" disabled>Close</button>
  <span>state: <span id="state">disconnected</span></span>
</header>
<div id="stage">
  <canvas id="screen" width="1280" height="720" tabindex="0"></canvas>
  <div id="overlay"></div>
</div>
<div id="log"></div>
<script>
(function () {
  var NAMED = { Enter: 1, Tab: 1, Backspace: 1, Delete: 1, Escape: 1, ArrowLeft: 1, ArrowRight: 1, ArrowUp: 1, ArrowDown: 1, Home: 1, End: 1, PageUp: 1, PageDown: 1 };
  var canvas = document.getElementById("screen");
  var ctx = canvas.getContext("2d");
  var overlay = document.getElementById("overlay");
  var stateEl = document.getElementById("state");
  var logEl = document.getElementById("log");
  var ws = null, token = "", userId = "";

  function log(msg) { logEl.textContent = msg + "\n" + logEl.textContent.slice(0, 4000); }
  function send(type, data) {
    if (!ws || ws.readyState !== 1) { return; }
    var msg = { type: type };
    if (data) { msg.data = data; }
    ws.send(JSON.stringify(msg));
  }
  function setState(s) { stateEl.textContent = s; }

  function handoff(cookies) {
    fetch("/api/v1/credentials/" + encodeURIComponent(userId), {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify(cookies)
    }).then(function (r) { log("handoff: HTTP " + r.status); })
      .catch(function (e) { log("handoff failed: " + e); });
  }

  function onMessage(ev) {
    var msg = JSON.parse(ev.data);
    var d = msg.data || {};
    switch (msg.type) {
    case "connected":
      token = d.token;
      setState(d.state);
      document.getElementById("start").disabled = d.state !== "idle";
      document.getElementById("close").disabled = false;
      break;
    case "loginStarted": setState("awaiting_login"); break;
    case "readyForLogin": log("ready: " + d.url); canvas.focus(); break;
    case "screencast":
      var img = new Image();
      img.onload = function () { ctx.drawImage(img, 0, 0, canvas.width, canvas.height); };
      img.src = "data:image/" + d.format + ";base64," + d.frame;
      break;
    case "inputUpdated":
      var el = d.element;
      overlay.style.display = "block";
      overlay.textContent = el.field + ": " + el.value;
      break;
    case "sessionStatus": setState(d.state); break;
    case "loginSuccess":
      setState("logged_in");
      log("login detected");
      handoff(d.cookies);
      break;
    case "sessionClosed":
      setState("closed (" + d.reason + ")");
      overlay.style.display = "none";
      break;
    case "error": log("error " + (d.code || "") + ": " + d.message); break;
    }
  }

  document.getElementById("connect").onclick = function () {
    userId = document.getElementById("user").value.trim();
    if (!userId) { log("user_id required"); return; }
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var url = proto + location.host + "/ws?user_id=" + encodeURIComponent(userId);
    if (token) { url += "&token=" + encodeURIComponent(token); }
    ws = new WebSocket(url);
    ws.onmessage = onMessage;
    ws.onclose = function () { setState(stateEl.textContent + " / socket closed"); };
  };
  document.getElementById("start").onclick = function () {
    send("startLogin", { canvasWidth: canvas.width, canvasHeight: canvas.height });
    this.disabled = true;
  };
  document.getElementById("close").onclick = function () { send("closeSession"); };

  canvas.addEventListener("click", function (e) {
    var r = canvas.getBoundingClientRect();
    var x = (e.clientX - r.left) * canvas.width / r.width;
    var y = (e.clientY - r.top) * canvas.height / r.height;
    send("mouse", { type: "click", x: Math.round(x), y: Math.round(y), canvasWidth: canvas.width, canvasHeight: canvas.height });
    canvas.focus();
  });
  canvas.addEventListener("wheel", function (e) {
    e.preventDefault();
    send("scroll", { deltaY: e.deltaY });
  }, { passive: false });
  canvas.addEventListener("keydown", function (e) {
    if (e.metaKey || e.ctrlKey) { return; }
    if (NAMED[e.key]) {
      e.preventDefault();
      send("keyboard", { type: "press", key: e.key });
    } else if (e.key.length === 1) {
      e.preventDefault();
      send("keyboard", { type: "type", key: e.key });
    }
  });
})();
</script>
</body>
</html>`
