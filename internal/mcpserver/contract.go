package mcpserver

// RecordFormat describes the canonical record layout returned by get_record.
const RecordFormat = `# Canonical Tariff Record

Each record describes one 10-digit national tariff line.

## Fields

| Field | Meaning |
|---|---|
| ` + "`code`" + ` | 10 digits, no separators |
| ` + "`hierarchy`" + ` | section (roman numeral), chapter (2 digits), heading (4), subheading (6), each with a label |
| ` + "`designation`" + ` | product description, whitespace-normalized |
| ` + "`unit`" + ` | statistical unit |
| ` + "`entry_into_force`" + ` | ISO-8601 date the line took effect |
| ` + "`taxation`" + ` | duties and taxes, sorted by code |
| ` + "`documents`" + ` | required import documents, sorted by code |
| ` + "`agreements`" + ` | preferential rates by partner country, sorted by country |
| ` + "`duty_history`" + ` | past import-duty rates, sorted by date |
| ` + "`version`" + ` | starts at 1, increases by one per content change |
| ` + "`fingerprint`" + ` | SHA-256 of the content fields above |
| ` + "`captured_at`" + ` | when this version was committed |

## Rates

Rates are percentages as numbers (` + "`2.5`" + ` for "2,5 %"). The source text is kept in
` + "`raw`" + `. A null rate means the source printed a non-numeric marker; read ` + "`raw`" + `.

## Change log

record_history returns one entry per version. ` + "`summary.fields`" + ` lists the changed
scalar fields; list sections report added, removed and changed keys.
`
