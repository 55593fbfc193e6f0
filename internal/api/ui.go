package api

import (
	"net/http"
)

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>HomeLink</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: monospace;
            background: #1a1a2e;
            color: #eee;
            height: 100vh;
            display: flex;
            flex-direction: column;
        }
        header {
            background: #16213e;
            padding: 12px 20px;
            border-bottom: 1px solid #0f3460;
            display: flex;
            justify-content: space-between;
            align-items: center;
        }
        header h1 { font-size: 16px; font-weight: normal; }
        #status {
            padding: 4px 10px;
            border-radius: 4px;
            font-size: 12px;
        }
        #status.connected { background: #1b4332; color: #95d5b2; }
        #status.disconnected { background: #7f1d1d; color: #fca5a5; }
        #status.reconnecting { background: #78350f; color: #fcd34d; }
        main { flex: 1; overflow: hidden; display: flex; }
        #left { flex: 1; overflow-y: auto; padding: 10px; border-right: 1px solid #0f3460; }
        #right { flex: 1; overflow-y: auto; padding: 10px; display: flex; flex-direction: column; }
        h2 { font-size: 13px; color: #9ca3af; margin: 8px 0; text-transform: uppercase; }
        .device {
            padding: 10px 12px;
            margin-bottom: 6px;
            background: #16213e;
            border-radius: 4px;
            border-left: 3px solid #0f3460;
            display: flex;
            gap: 12px;
            align-items: center;
            font-size: 13px;
        }
        .device.on { border-left-color: #059669; }
        .device.pending { opacity: 0.6; }
        .device .name { flex: 1; }
        .device .type { color: #6b7280; font-size: 11px; min-width: 80px; }
        .device button {
            background: #2563eb;
            border: none;
            border-radius: 4px;
            padding: 4px 10px;
            color: #fff;
            font-family: monospace;
            font-size: 12px;
            cursor: pointer;
        }
        .device input[type=range] { width: 110px; }
        .alert {
            padding: 8px 12px;
            margin-bottom: 4px;
            background: #1f1515;
            border-radius: 4px;
            border-left: 3px solid #dc2626;
            font-size: 13px;
            display: flex;
            gap: 12px;
            align-items: baseline;
        }
        .alert.severity-warning { border-left-color: #d97706; background: #1c1810; }
        .alert.severity-info { border-left-color: #2563eb; background: #16213e; }
        .alert .msg { flex: 1; }
        .alert .dismiss {
            background: none;
            border: 1px solid #6b7280;
            border-radius: 4px;
            color: #9ca3af;
            font-family: monospace;
            font-size: 11px;
            cursor: pointer;
            padding: 2px 8px;
        }
        #events { flex: 1; overflow-y: auto; }
        .event {
            padding: 6px 10px;
            margin-bottom: 3px;
            background: #16213e;
            border-radius: 4px;
            border-left: 3px solid #0f3460;
            font-size: 12px;
            display: flex;
            gap: 10px;
            align-items: baseline;
        }
        .event.level-error { border-left-color: #dc2626; background: #1f1515; }
        .event.scope-device { border-left-color: #d97706; }
        .event.scope-alert { border-left-color: #db2777; }
        .event.scope-broker { border-left-color: #0891b2; }
        .ts { color: #6b7280; font-size: 11px; min-width: 90px; }
        .ev-name { color: #60a5fa; font-weight: bold; min-width: 150px; }
        .ev-msg { color: #9ca3af; }
        #banner {
            display: none;
            background: #7f1d1d;
            color: #fca5a5;
            padding: 8px 20px;
            font-size: 13px;
            text-align: center;
        }
        #banner.visible { display: block; }
        footer {
            background: #16213e;
            padding: 8px 20px;
            border-top: 1px solid #0f3460;
            font-size: 11px;
            color: #6b7280;
        }
    </style>
</head>
<body>
    <header>
        <h1>HomeLink</h1>
        <span id="status" class="disconnected">disconnected</span>
    </header>
    <div id="banner">Connection to home lost. Controls are disabled until the broker reconnects.</div>
    <main>
        <div id="left">
            <h2>Devices</h2>
            <div id="devices"></div>
            <h2>Alerts</h2>
            <div id="alerts"></div>
        </div>
        <div id="right">
            <h2>Live Events</h2>
            <div id="events"></div>
        </div>
    </main>
    <footer>homelink dashboard</footer>

    <script>
        const maxEvents = 200;

        function api(path, opts) {
            return fetch(path, opts).then(r => {
                if (!r.ok) return r.json().then(b => { throw new Error(b.error || r.statusText); });
                return r.status === 204 ? null : r.json();
            });
        }

        function renderDevices(devices) {
            const root = document.getElementById('devices');
            root.innerHTML = '';
            for (const d of devices) {
                const div = document.createElement('div');
                div.className = 'device' + (d.state === 'on' ? ' on' : '');
                div.dataset.id = d.id;

                const name = document.createElement('span');
                name.className = 'name';
                name.textContent = d.name;
                div.appendChild(name);

                const type = document.createElement('span');
                type.className = 'type';
                type.textContent = d.type;
                div.appendChild(type);

                if (d.type === 'light') {
                    const slider = document.createElement('input');
                    slider.type = 'range';
                    slider.min = 0; slider.max = 100;
                    slider.value = d.brightness;
                    slider.onchange = () => command(d.id, 'brightness', { brightness: parseInt(slider.value, 10) });
                    div.appendChild(slider);
                }

                const btn = document.createElement('button');
                if (d.type === 'light') {
                    btn.textContent = d.state === 'on' ? 'Off' : 'On';
                    btn.onclick = () => command(d.id, 'toggle');
                } else if (d.type === 'camera') {
                    btn.textContent = d.state === 'on' ? 'Power Off' : 'Power On';
                    btn.onclick = () => command(d.id, 'power', { on: d.state !== 'on' });
                } else {
                    btn.textContent = 'Mode…';
                    btn.onclick = () => {
                        const mode = prompt('Mode id:', d.mode_id || '');
                        if (mode) command(d.id, 'mode', { mode_id: mode });
                    };
                }
                div.appendChild(btn);
                root.appendChild(div);
            }
        }

        function command(id, op, body) {
            const el = document.querySelector('.device[data-id="' + id + '"]');
            if (el) el.classList.add('pending');
            api('/api/devices/' + id + '/' + op, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: body ? JSON.stringify(body) : '{}'
            }).then(refreshDevices).catch(err => {
                console.error(op + ' failed:', err.message);
                refreshDevices();
            });
        }

        function refreshDevices() {
            api('/api/devices').then(renderDevices).catch(() => {});
        }

        function renderAlerts(alerts) {
            const root = document.getElementById('alerts');
            root.innerHTML = '';
            for (const a of alerts) {
                const div = document.createElement('div');
                div.className = 'alert severity-' + a.severity;

                const msg = document.createElement('span');
                msg.className = 'msg';
                msg.textContent = (a.deviceName ? a.deviceName + ': ' : '') + a.message;
                div.appendChild(msg);

                const btn = document.createElement('button');
                btn.className = 'dismiss';
                btn.textContent = 'dismiss';
                btn.onclick = () => {
                    api('/api/alerts/' + a.id, { method: 'DELETE' })
                        .then(refreshAlerts)
                        .catch(err => { console.error('dismiss failed:', err.message); refreshAlerts(); });
                };
                div.appendChild(btn);
                root.appendChild(div);
            }
        }

        function refreshAlerts() {
            api('/api/alerts').then(renderAlerts).catch(() => {});
        }

        function addEvent(e) {
            const root = document.getElementById('events');
            const div = document.createElement('div');
            const scope = e.event.split('.')[0];
            div.className = 'event level-' + e.level + ' scope-' + scope;

            const ts = document.createElement('span');
            ts.className = 'ts';
            ts.textContent = e.ts.substring(11, 19);
            div.appendChild(ts);

            const name = document.createElement('span');
            name.className = 'ev-name';
            name.textContent = e.event;
            div.appendChild(name);

            const msg = document.createElement('span');
            msg.className = 'ev-msg';
            msg.textContent = e.msg || (e.fields ? JSON.stringify(e.fields) : '');
            div.appendChild(msg);

            root.insertBefore(div, root.firstChild);
            while (root.children.length > maxEvents) root.removeChild(root.lastChild);

            if (e.event.startsWith('device.') || e.event === 'broker.connected') refreshDevices();
            if (e.event.startsWith('alert.')) refreshAlerts();
            if (e.event === 'broker.offline') setBanner(true);
            if (e.event === 'broker.connected') setBanner(false);
        }

        function setBanner(visible) {
            document.getElementById('banner').classList.toggle('visible', visible);
        }

        let ws = null;
        function setStatus(cls) {
            const el = document.getElementById('status');
            el.className = cls;
            el.textContent = cls;
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            ws = new WebSocket(proto + '//' + location.host + '/ws');
            ws.onopen = () => { setStatus('connected'); refreshDevices(); refreshAlerts(); };
            ws.onclose = () => { setStatus('disconnected'); setTimeout(connect, 2000); };
            ws.onmessage = (m) => {
                const msg = JSON.parse(m.data);
                if (msg.type === 'event') addEvent(msg.event);
            };
        }

        refreshDevices();
        refreshAlerts();
        connect();
    </script>
</body>
</html>`

// dashboardHandler serves the embedded dashboard.
func dashboardHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}
