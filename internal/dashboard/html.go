package dashboard

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>ThreadGoat Dashboard</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: 'Inter', -apple-system, system-ui, sans-serif; background: #0f172a; color: #e2e8f0; min-height: 100vh; }
        .header { background: linear-gradient(135deg, #1e293b, #334155); padding: 1.5rem 2rem; border-bottom: 1px solid #475569; display: flex; justify-content: space-between; align-items: center; }
        .header h1 { font-size: 1.5rem; background: linear-gradient(135deg, #38bdf8, #818cf8); background-clip: text; -webkit-background-clip: text; -webkit-text-fill-color: transparent; }
        .header .status { padding: 0.5rem 1rem; border-radius: 9999px; font-size: 0.875rem; font-weight: 600; }
        .status.running { background: #166534; color: #4ade80; }
        .status.stopped { background: #991b1b; color: #fca5a5; }
        .status.idle { background: #854d0e; color: #fde047; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(240px, 1fr)); gap: 1rem; padding: 2rem; }
        .card { background: #1e293b; border: 1px solid #334155; border-radius: 12px; padding: 1.5rem; transition: transform 0.2s; }
        .card:hover { transform: translateY(-2px); }
        .card .label { font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.05em; color: #94a3b8; margin-bottom: 0.5rem; }
        .card .value { font-size: 2rem; font-weight: 700; color: #f1f5f9; }
        .card .sub { font-size: 0.875rem; color: #64748b; margin-top: 0.25rem; }
        .card.accent { border-color: #38bdf8; }
        .card.accent .value { color: #38bdf8; }
        .card.success { border-color: #4ade80; }
        .card.success .value { color: #4ade80; }
        .card.warning { border-color: #fbbf24; }
        .card.warning .value { color: #fbbf24; }
        .card.error { border-color: #f87171; }
        .card.error .value { color: #f87171; }
        table { width: calc(100% - 4rem); margin: 0 2rem 2rem; border-collapse: collapse; font-size: 0.875rem; }
        th, td { text-align: left; padding: 0.5rem 0.75rem; border-bottom: 1px solid #334155; }
        th { color: #94a3b8; font-weight: 600; text-transform: uppercase; font-size: 0.7rem; letter-spacing: 0.05em; }
        td a { color: #38bdf8; text-decoration: none; }
        h2 { padding: 0 2rem 0.75rem; font-size: 1rem; color: #cbd5e1; }
        .footer { text-align: center; padding: 1rem; color: #475569; font-size: 0.75rem; }
    </style>
</head>
<body>
    <div class="header">
        <h1>ThreadGoat Dashboard</h1>
        <span class="status idle" id="status">Idle</span>
    </div>
    <div class="grid" id="stats">
        <div class="card accent"><div class="label">Discussions</div><div class="value" id="discussions">0</div></div>
        <div class="card success"><div class="label">Replies</div><div class="value" id="replies">0</div></div>
        <div class="card success"><div class="label">Analyzed</div><div class="value" id="analyzed">0</div></div>
        <div class="card warning"><div class="label">Incomplete Threads</div><div class="value" id="incomplete">0</div></div>
        <div class="card accent"><div class="label">Active Workers</div><div class="value" id="active_workers">0</div></div>
        <div class="card"><div class="label">Queue Depth</div><div class="value" id="queue_depth">0</div></div>
        <div class="card error"><div class="label">Fetch Failures</div><div class="value" id="discussions_failed">0</div></div>
        <div class="card"><div class="label">Platforms</div><div class="value" id="platforms">-</div><div class="sub" id="platform_breakdown"></div></div>
    </div>
    <h2>Largest reply shortfalls</h2>
    <table>
        <thead><tr><th>Discussion</th><th>Reported</th><th>Stored</th><th>Missing</th></tr></thead>
        <tbody id="discrepancies"></tbody>
    </table>
    <h2>Recent runs</h2>
    <table>
        <thead><tr><th>Run</th><th>Source</th><th>Started</th><th>Stored</th><th>Failed</th><th>Incomplete</th></tr></thead>
        <tbody id="runs"></tbody>
    </table>
    <div class="footer">ThreadGoat - refreshes every 5s</div>
    <script>
        function esc(s) { const d = document.createElement('div'); d.textContent = s == null ? '' : String(s); return d.innerHTML; }
        function setNum(id, v) { const el = document.getElementById(id); if (el && v !== undefined) el.textContent = Number(v).toLocaleString(); }
        async function refresh() {
            try {
                const d = await (await fetch('/api/stats')).json();
                const s = d.store || {}, c = d.counters || {};
                ['discussions','replies','analyzed','incomplete'].forEach(k => setNum(k, s[k]));
                ['active_workers','queue_depth','discussions_failed'].forEach(k => setNum(k, c[k]));
                const platforms = s.by_platform || [];
                document.getElementById('platforms').textContent = platforms.length;
                document.getElementById('platform_breakdown').textContent = platforms.map(p => p.key + ': ' + p.count).join(', ');
                const running = (c.active_workers || 0) > 0;
                const st = document.getElementById('status');
                st.textContent = running ? 'running' : 'idle';
                st.className = 'status ' + (running ? 'running' : 'idle');

                const disc = await (await fetch('/api/discrepancies?limit=10')).json();
                document.getElementById('discrepancies').innerHTML = (disc.discrepancies || []).map(r =>
                    '<tr><td><a href="' + esc(r.url) + '">' + esc(r.title || r.id) + '</a></td><td>' + r.reported + '</td><td>' + r.stored + '</td><td>' + (r.reported - r.stored) + '</td></tr>').join('');

                const runs = await (await fetch('/api/runs?limit=10')).json();
                document.getElementById('runs').innerHTML = (runs.runs || []).map(r =>
                    '<tr><td>' + esc(r.run_id.slice(0, 8)) + '</td><td>' + esc(r.source) + '</td><td>' + esc(r.started_at) + '</td><td>' + r.stored + '</td><td>' + r.failed + '</td><td>' + r.incomplete + '</td></tr>').join('');
            } catch(e) {}
        }
        setInterval(refresh, 5000);
        refresh();
    </script>
</body>
</html>`
