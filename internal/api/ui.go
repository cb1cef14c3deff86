package api

import (
	"net/http"
)

const operatorUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>propmodel</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body { font-family: monospace; background: #1a1a2e; color: #eee; height: 100vh; display: flex; flex-direction: column; }
        header { background: #16213e; padding: 12px 20px; border-bottom: 1px solid #0f3460; display: flex; justify-content: space-between; align-items: center; }
        header h1 { font-size: 16px; font-weight: normal; }
        #status { padding: 4px 10px; border-radius: 4px; font-size: 12px; }
        #status.connected { background: #1b4332; color: #95d5b2; }
        #status.disconnected { background: #7f1d1d; color: #fca5a5; }
        #status.connecting { background: #78350f; color: #fcd34d; }
        main { flex: 1; overflow: hidden; display: flex; }
        section { padding: 10px; overflow-y: auto; }
        #model { width: 40%; border-right: 1px solid #0f3460; }
        #events { flex: 1; }
        h2 { font-size: 13px; color: #9ca3af; margin: 8px 0; font-weight: normal; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td { padding: 4px 6px; border-bottom: 1px solid #0f3460; }
        input { background: #1a1a2e; border: 1px solid #0f3460; border-radius: 4px; padding: 4px 8px; color: #eee; font-family: monospace; width: 100px; }
        button { background: #2563eb; border: none; border-radius: 4px; padding: 4px 10px; color: #fff; font-family: monospace; cursor: pointer; }
        button.off { background: #374151; }
        .unfulfilled { color: #fca5a5; }
        .event { padding: 6px 10px; margin-bottom: 4px; background: #16213e; border-radius: 4px; border-left: 3px solid #2563eb; font-size: 13px; display: flex; gap: 12px; }
        .event.level-error { border-left-color: #dc2626; background: #1f1515; }
        .event.level-warn { border-left-color: #d97706; }
        .ts { color: #6b7280; font-size: 11px; min-width: 90px; }
        .name { color: #60a5fa; font-weight: bold; min-width: 140px; }
        .msg { color: #9ca3af; }
        footer { background: #16213e; padding: 8px 20px; border-top: 1px solid #0f3460; font-size: 11px; color: #6b7280; }
        #result { margin-left: 12px; }
    </style>
</head>
<body>
    <header>
        <h1 id="title">propmodel</h1>
        <span id="status" class="disconnected">Disconnected</span>
    </header>
    <main>
        <section id="model">
            <h2>properties</h2>
            <table id="properties"></table>
            <h2>constraints</h2>
            <table id="constraints"></table>
            <h2 id="plan"></h2>
        </section>
        <section id="events"></section>
    </main>
    <footer>
        <span id="count">0</span> events | WebSocket: /ws<span id="result"></span>
    </footer>

    <script>
        const eventsDiv = document.getElementById('events');
        const statusEl = document.getElementById('status');
        const resultEl = document.getElementById('result');
        let eventCount = 0;
        let ws = null;
        let reconnectTimer = null;

        function cell(row, text, cls) {
            const td = row.insertCell();
            td.textContent = text;
            if (cls) td.className = cls;
            return td;
        }

        function showResult(message) {
            resultEl.textContent = ' | ' + message;
            setTimeout(function() { resultEl.textContent = ''; }, 5000);
        }

        function post(path, body) {
            return fetch(path, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify(body)
            }).then(function(res) { return res.json(); })
              .then(function(data) {
                  if (!data.ok) showResult(data.error || 'request failed');
                  loadModel();
              })
              .catch(function() { showResult('network error'); });
        }

        function renderModel(m) {
            document.getElementById('title').textContent = 'propmodel: ' + m.model;
            const props = document.getElementById('properties');
            props.innerHTML = '';
            m.properties.forEach(function(p) {
                const row = props.insertRow();
                cell(row, p.name);
                const input = document.createElement('input');
                input.value = p.value;
                input.addEventListener('keypress', function(e) {
                    if (e.key !== 'Enter') return;
                    const values = {};
                    values[p.name] = parseFloat(input.value);
                    post('/properties', { values: values });
                });
                row.insertCell().appendChild(input);
                cell(row, '#' + p.last_write);
            });

            const cons = document.getElementById('constraints');
            cons.innerHTML = '';
            m.constraints.forEach(function(c) {
                const row = cons.insertRow();
                cell(row, c.name, c.fulfilled ? '' : 'unfulfilled');
                cell(row, 'importance ' + c.importance);
                const btn = document.createElement('button');
                btn.textContent = c.enabled ? 'enabled' : 'disabled';
                if (!c.enabled) btn.className = 'off';
                btn.onclick = function() { post('/constraints', { name: c.name, enabled: !c.enabled }); };
                row.insertCell().appendChild(btn);
            });

            document.getElementById('plan').textContent =
                'plan #' + m.plan.clock + ' by ' + (m.plan.solver || 'none') +
                ', ' + m.plan.fulfilled + ' fulfilled, ' + m.plan.duration_us + 'us';
        }

        function loadModel() {
            fetch('/model').then(function(res) { return res.json(); }).then(renderModel)
                .catch(function() { showResult('model unavailable'); });
        }

        function renderEvent(e) {
            const div = document.createElement('div');
            div.className = 'event level-' + e.level;
            [['ts', new Date(e.ts).toLocaleTimeString('en-US', { hour12: false })],
             ['name', e.event],
             ['msg', e.msg || (e.fields ? JSON.stringify(e.fields) : '')]].forEach(function(part) {
                const span = document.createElement('span');
                span.className = part[0];
                span.textContent = part[1];
                div.appendChild(span);
            });
            eventsDiv.appendChild(div);
            document.getElementById('count').textContent = ++eventCount;
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
            while (eventsDiv.children.length > 500) {
                eventsDiv.removeChild(eventsDiv.firstChild);
            }
            if (e.event === 'model.updated' || e.event === 'model.reloaded' || e.event === 'constraint.updated') {
                loadModel();
            }
        }

        function setStatus(status) {
            statusEl.className = status;
            statusEl.textContent = status.charAt(0).toUpperCase() + status.slice(1);
        }

        function connect() {
            if (ws && ws.readyState === WebSocket.OPEN) return;
            setStatus('connecting');
            const protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
            ws = new WebSocket(protocol + '//' + location.host + '/ws');
            ws.onopen = function() { setStatus('connected'); loadModel(); };
            ws.onmessage = function(msg) {
                try { renderEvent(JSON.parse(msg.data)); } catch (err) { console.error(err); }
            };
            ws.onclose = function() {
                setStatus('disconnected');
                if (reconnectTimer) return;
                reconnectTimer = setTimeout(function() { reconnectTimer = null; connect(); }, 3000);
            };
            ws.onerror = function() { ws.close(); };
        }

        connect();
    </script>
</body>
</html>`

// uiHandler serves the operator page.
func uiHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(operatorUIHTML))
}
