package graph

// Every node carries the source URL so several sources can share a database.

var schemaQueries = []string{
	`CREATE INDEX source_url IF NOT EXISTS FOR (s:Source) ON (s.url)`,
	`CREATE INDEX event_key IF NOT EXISTS FOR (e:Event) ON (e.source, e.native_id)`,
	`CREATE INDEX author_key IF NOT EXISTS FOR (a:Author) ON (a.source, a.name)`,
	`CREATE INDEX item_key IF NOT EXISTS FOR (i:Item) ON (i.source, i.path)`,
}

const mergeSourceQuery = `
MERGE (s:Source {url: $source})
SET s.owner = $owner, s.name = $name
`

const mergeEventsQuery = `
UNWIND $rows AS row
MERGE (e:Event {source: $source, native_id: row.native_id})
SET e.timestamp = row.timestamp
WITH e
MATCH (s:Source {url: $source})
MERGE (e)-[:IN]->(s)
`

const mergeParentsQuery = `
UNWIND $rows AS row
MATCH (c:Event {source: $source, native_id: row.child})
MATCH (p:Event {source: $source, native_id: row.parent})
MERGE (c)-[r:PARENT]->(p)
SET r.position = row.position
`

const mergeAuthorsQuery = `
UNWIND $rows AS row
MERGE (a:Author {source: $source, name: row.name})
SET a.email = row.email
WITH a, row
MATCH (e:Event {source: $source, native_id: row.event})
MERGE (a)-[:AUTHORED]->(e)
`

const mergeActionsQuery = `
UNWIND $rows AS row
MATCH (e:Event {source: $source, native_id: row.event})
MERGE (i:Item {source: $source, path: row.path})
MERGE (e)-[r:ACTION {parent: row.parent}]->(i)
SET r.kind = row.kind
`
